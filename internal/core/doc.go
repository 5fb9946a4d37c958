// Package core holds the repository contracts shared by the assessment job engine services.
package core
