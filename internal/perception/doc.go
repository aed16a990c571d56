// Package perception locates and manipulates on-screen UI elements through
// an ordered chain of interchangeable strategies: the accessibility tree, an
// app-specific scripted session, image template matching, and OCR.
//
// The engine tries layers in their configured order and returns on the
// first success. A layer that cannot handle the request shape is skipped
// without recording an attempt; a capable layer that fails contributes one
// attempt to the audit trail. Layer order never changes at runtime.
package perception
