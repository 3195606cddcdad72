// Package crosscheck is a differential-testing harness for compiler backends.
package crosscheck

// Version is the crosscheck release version.
const Version = "0.3.0"
