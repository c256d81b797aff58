package models

// Credentials authenticate against a registry instance with basic auth.
type Credentials struct {
	Username string
	Password string
}

// RegistryIdentity is the destination of one submission. It is resolved once
// from the survey's configuration and not changed during the attempt.
type RegistryIdentity struct {
	ProgramID           string
	TrackedEntityTypeID string
	InstanceKey         string
	BaseURL             string
	Credentials         Credentials
	// VerifyTLS is false only for instances deliberately running self-signed certificates.
	VerifyTLS bool
	Active    bool
}
