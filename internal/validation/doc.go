// Package validation holds the pure checks applied to an upload before it
// is placed: filename and upload id sanitisation, the extension allow-set,
// SHA-256 verification and destination path containment.
package validation
