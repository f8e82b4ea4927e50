package audio

import (
	"fmt"
	"strings"
)

// ----- Sound Scope ----- //

// SoundScope is the playback category a RecallID belongs to.
type SoundScope int

const (
	ScopePlayback SoundScope = iota
	ScopeSequencer
	ScopeNotation
	ScopeWave
	ScopeMidi
	scopeCount
)

var soundScopeNames = [...]string{"playback", "sequencer", "notation", "wave", "midi"}

func (s SoundScope) String() string {
	if s < 0 || s >= scopeCount {
		return fmt.Sprintf("scope(%d)", int(s))
	}
	return soundScopeNames[s]
}

// Mask ...
func (s SoundScope) Mask() ScopeMask {
	return 1 << uint(s)
}

// ParseSoundScope ...
func ParseSoundScope(s string) (SoundScope, error) {
	for i, name := range soundScopeNames {
		if name == s {
			return SoundScope(i), nil
		}
	}
	return 0, fmt.Errorf("unknown sound scope %q", s)
}

// ScopeMask selects several scopes.
type ScopeMask uint32

// AllScopes ...
const AllScopes ScopeMask = 1<<uint(scopeCount) - 1

// Has ...
func (m ScopeMask) Has(s SoundScope) bool {
	return m&s.Mask() != 0
}

// ----- Staging ----- //

// Staging is one stage of the per-buffer pipeline. Stages are bits so any
// subset can be selected.
type Staging uint32

const (
	StageCheckRTData Staging = 1 << iota
	StageRunInitPre
	StageRunInitInter
	StageRunInitPost
	StageFeedInputQueue
	StageAutomate
	StageRunPre
	StageRunInter
	StageRunPost
	StageDoFeedback
	StageFeedOutputQueue
	StageFini
)

// StageAll ...
const StageAll Staging = StageFini<<1 - 1

// stageOrder is the fixed execution order.
var stageOrder = []Staging{
	StageCheckRTData,
	StageRunInitPre,
	StageRunInitInter,
	StageRunInitPost,
	StageFeedInputQueue,
	StageAutomate,
	StageRunPre,
	StageRunInter,
	StageRunPost,
	StageDoFeedback,
	StageFeedOutputQueue,
	StageFini,
}

var stageNames = map[Staging]string{
	StageCheckRTData:     "check-rt-data",
	StageRunInitPre:      "run-init-pre",
	StageRunInitInter:    "run-init-inter",
	StageRunInitPost:     "run-init-post",
	StageFeedInputQueue:  "feed-input-queue",
	StageAutomate:        "automate",
	StageRunPre:          "run-pre",
	StageRunInter:        "run-inter",
	StageRunPost:         "run-post",
	StageDoFeedback:      "do-feedback",
	StageFeedOutputQueue: "feed-output-queue",
	StageFini:            "fini",
}

func (s Staging) String() string {
	var names []string
	for _, stage := range stageOrder {
		if s&stage != 0 {
			names = append(names, stageNames[stage])
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Has ...
func (s Staging) Has(stage Staging) bool {
	return s&stage != 0
}

// Stages returns the selected stages in execution order.
func (s Staging) Stages() []Staging {
	var stages []Staging
	for _, stage := range stageOrder {
		if s&stage != 0 {
			stages = append(stages, stage)
		}
	}
	return stages
}
