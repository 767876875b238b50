// Package source loads policy definitions from YAML files and keeps a policy
// store in sync with them as the files change.
package source
