// Package framework hosts analyzers: it drives the job, run, luminosity-block
// and event lifecycle and owns plugin registration.
package framework

import (
	"context"
	"fmt"

	"github.com/physobj/physobj/pkg/event"
)

// Run identifies a run scope.
type Run struct {
	Number uint32
}

// LuminosityBlock identifies a luminosity-block scope within a run.
type LuminosityBlock struct {
	Run    uint32
	Number uint32
}

func (l LuminosityBlock) String() string {
	return fmt.Sprintf("%d:%d", l.Run, l.Number)
}

// Analyzer is the lifecycle a hosted module participates in.
// Hooks are called sequentially on one goroutine; an Analyzer never sees
// concurrent calls.
type Analyzer interface {
	BeginJob(ctx context.Context) error
	EndJob(ctx context.Context) error
	BeginRun(ctx context.Context, run Run) error
	EndRun(ctx context.Context, run Run) error
	BeginLuminosityBlock(ctx context.Context, lumi LuminosityBlock) error
	EndLuminosityBlock(ctx context.Context, lumi LuminosityBlock) error

	// Analyze is called once per event.
	Analyze(ctx context.Context, evt *event.Event) error
}

// BaseAnalyzer implements every hook except Analyze as a no-op.
// Embed it and implement Analyze.
type BaseAnalyzer struct{}

func (BaseAnalyzer) BeginJob(context.Context) error                              { return nil }
func (BaseAnalyzer) EndJob(context.Context) error                                { return nil }
func (BaseAnalyzer) BeginRun(context.Context, Run) error                         { return nil }
func (BaseAnalyzer) EndRun(context.Context, Run) error                           { return nil }
func (BaseAnalyzer) BeginLuminosityBlock(context.Context, LuminosityBlock) error { return nil }
func (BaseAnalyzer) EndLuminosityBlock(context.Context, LuminosityBlock) error   { return nil }

// Module is a configured analyzer instance.
type Module struct {
	Label    string
	Plugin   string
	Analyzer Analyzer
}
