package core

// MaxErrorMessageLength bounds sanitized error messages returned to clients.
const MaxErrorMessageLength = 500

// MaxRequestBodySize bounds JSON request bodies accepted by the API.
const MaxRequestBodySize = 1 << 20 // 1 MiB

// MaxWorkflowDocumentSize bounds workflow documents submitted for inspection
// or playbook creation.
const MaxWorkflowDocumentSize = 512 * 1024

// DefaultPageLimit and MaxPageLimit bound list and history queries.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)
