package protection

import "github.com/pgmedic/pgmedic/internal/core"

// NopHandle satisfies core.ProtectionHandle for runs with protection
// disabled: never aborted, nothing recorded.
type NopHandle struct{}

func (NopHandle) IsAborted() bool                   { return false }
func (NopHandle) Violations() []core.ViolationEvent { return nil }
func (NopHandle) State() core.ProtectionState       { return core.StateIdle }
func (NopHandle) History() []core.Sample            { return nil }
func (NopHandle) SamplesTaken() int                 { return 0 }
func (NopHandle) SamplesSkipped() int               { return 0 }
func (NopHandle) Stop()                             {}
