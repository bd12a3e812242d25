// Package fakes provides test doubles for the rotation engine's external
// interfaces.
//
// Fakes are manually implemented (not generated) to provide precise control
// over test behavior, and record the calls they receive so tests can assert
// on interaction order and counts.
//
// Usage:
//
//	provider := fakes.NewKMSProvider("fake")
//	provider.FailGenerateWith(kerrors.TransientKMS("GenerateKey", errors.New("throttled")), 2)
//	// Wire provider into an Executor and assert on provider.GenerateCalls.
package fakes
