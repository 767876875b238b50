// Package explain turns decisions and drift signals into text for
// executives, managers, developers and operators.
package explain
