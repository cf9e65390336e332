// Package motor abstracts the motor command transport for the mirror
// array. The calibration runner and the playback dispatcher only ever
// talk to the Motors interface; the GPIO stepper bank below it is one
// implementation, the mock another.
package motor

import "context"

// Motors is the capability interface for issuing motor commands.
// Both calls block until the command has been accepted and executed,
// and must observe ctx cancellation promptly.
type Motors interface {
	// HomeAll drives every axis of the listed controllers to its home
	// reference position.
	HomeAll(ctx context.Context, controllerIDs []string) error

	// MoveTo drives one axis to an absolute step count.
	MoveTo(ctx context.Context, controllerID string, axis int, targetSteps int) error
}
