// Package outputs implements the Output Drivers (spec §4.E, Component
// E): high-side switch and H-bridge control, PWM with soft-start,
// inrush-vs-steady-state current limiting, retry/lockout, stall
// detection and signal-loss detection (SignalLoss). Driver does not
// call SignalLoss and does not apply HBridgeConfig.SignalLossAction,
// CustomFailsafePos or AutoRecovery. It implements
// pkg/executor.OutputCommander so the Channel Executor can drive
// hardware without importing this package directly.
package outputs
