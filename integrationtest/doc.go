// Package integrationtest contains testing suites shared by every
// event.Store implementation in this module, and by the checkpoint.Store
// running on top of them.
package integrationtest
