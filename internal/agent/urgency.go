package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/kji7666/AI-agent-MVP/internal/provider"
)

// Interrupter decides whether observations should interrupt a busy agent.
type Interrupter interface {
	IsUrgent(ctx context.Context, observations []string) bool
}

// routinePatterns match pure environment description: where the agent is,
// what objects are around and what state they are in, who else is present.
var routinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^you are (now )?(in|at|inside|near|on) `),
	regexp.MustCompile(`(?i)^you are not (in|at) any known place`),
	regexp.MustCompile(`(?i)^there (is|are) .+ here\b`),
	regexp.MustCompile(`(?i)^it is (now )?(early |late )?(morning|noon|afternoon|evening|night|\d)`),
	regexp.MustCompile(`(?i)^[\p{L}\p{N}' ,-]+ (is|are) (also )?here\.?$`),
	regexp.MustCompile(`(?i)^(the )?[\p{L}\p{N}' -]+ (is|are) (currently |still )?(on|off|idle|empty|full|open|closed|clean|tidy|messy|dirty|running|made|unmade|in use|available|quiet)\.?$`),
	regexp.MustCompile(`^你(現在|目前)?(位於|在)`),
	regexp.MustCompile(`^你目前不在任何已知的地方`),
	regexp.MustCompile(`^這裡有.+狀態是`),
	regexp.MustCompile(`^你看到 .+ 也在這裡`),
}

// alarmWords veto the routine patterns.
var alarmWords = regexp.MustCompile(`(?i)\b(fire|smoke|help|alarm|scream|emergency|hurt|injur|bleed|crash|explo)|火災|失火|救命|警報|受傷`)

// RoutineFilter is a heuristic Interrupter: a batch is routine when every
// observation matches an environment-description pattern. Anything else,
// such as speech or an alarm, is urgent.
type RoutineFilter struct{}

// IsUrgent implements Interrupter.
func (RoutineFilter) IsUrgent(_ context.Context, observations []string) bool {
	for _, obs := range observations {
		if !IsRoutine(obs) {
			return true
		}
	}
	return false
}

// IsRoutine reports whether a single observation is plain environment
// description. Blank observations are routine.
func IsRoutine(obs string) bool {
	s := strings.TrimSpace(obs)
	if s == "" {
		return true
	}
	if alarmWords.MatchString(s) {
		return false
	}
	for _, re := range routinePatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

const sentryPrompt = `You are the perception filter of a simulated person who is busy with a task.
Decide whether the observations below contain an event that needs immediate attention
and should interrupt the current action.

Urgent: fire, someone speaking to them, a call for help, a loud noise, an accident.
Not urgent: static descriptions of the surroundings, others doing unrelated things,
objects changing state normally.

Observations:
%s

Respond with JSON only: {"is_urgent": true or false, "reason": "short reason"}`

// Sentry asks the fast model whether observations are urgent. Any failure
// is treated as not urgent.
type Sentry struct {
	gen    provider.Generator
	logger *zap.Logger
}

// NewSentry creates a model-backed Interrupter.
func NewSentry(gen provider.Generator, logger *zap.Logger) *Sentry {
	return &Sentry{gen: gen, logger: logger}
}

// IsUrgent implements Interrupter.
func (s *Sentry) IsUrgent(ctx context.Context, observations []string) bool {
	if len(observations) == 0 {
		return false
	}
	reply, err := s.gen.Generate(ctx, []provider.Message{
		provider.User(fmt.Sprintf(sentryPrompt, strings.Join(observations, "\n"))),
	}, 0)
	if err != nil {
		s.logger.Warn("sentry unavailable, treating as routine", zap.Error(err))
		return false
	}
	var out struct {
		IsUrgent bool   `json:"is_urgent"`
		Reason   string `json:"reason"`
	}
	if err := provider.DecodeJSON(reply, &out); err != nil {
		s.logger.Warn("sentry reply unusable, treating as routine", zap.Error(err))
		return false
	}
	if out.IsUrgent {
		s.logger.Info("sentry interrupt", zap.String("reason", out.Reason))
	}
	return out.IsUrgent
}
