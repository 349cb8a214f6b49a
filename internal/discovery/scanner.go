// Package discovery reads existing OAuth credential files left behind by
// other local AI tools (Antigravity, Gemini CLI, Codex) so a user can
// import one as a new Account without re-running the OAuth flow. This is
// read-only discovery of files already on disk, not the excluded
// IDE-database identity-injection side channel.
package discovery

import (
	"log/slog"
	"path/filepath"
)

// ScanResult holds the result of scanning all sources
type ScanResult struct {
	Credentials []Credential `json:"credentials"`
	Errors      []ScanError  `json:"errors,omitempty"`
}

// ScanError represents an error encountered during scanning
type ScanError struct {
	Source string `json:"source"`
	Path   string `json:"path"`
	Error  string `json:"error"`
}

// ScanAll scans all known sources for credentials.
func ScanAll(log *slog.Logger) *ScanResult {
	result := &ScanResult{
		Credentials: make([]Credential, 0),
		Errors:      make([]ScanError, 0),
	}

	for _, source := range Sources {
		creds, errs := scanSource(source, log)
		result.Credentials = append(result.Credentials, creds...)
		result.Errors = append(result.Errors, errs...)
	}

	log.Info("discovery scan complete", "credentials_found", len(result.Credentials), "sources_scanned", len(Sources))
	return result
}

// scanSource scans a single source for credentials
func scanSource(source Source, log *slog.Logger) ([]Credential, []ScanError) {
	var credentials []Credential
	var errors []ScanError

	for _, pathPattern := range source.ConfigPaths {
		expanded := expandPath(pathPattern)
		
		// Handle wildcards
		matches, err := filepath.Glob(expanded)
		if err != nil {
			errors = append(errors, ScanError{
				Source: source.Name,
				Path:   expanded,
				Error:  "Glob error: " + err.Error(),
			})
			continue
		}

		if len(matches) == 0 {
			continue
		}

		for _, path := range matches {
			// Parse credentials
			cred, err := source.Parser(path)
			if err != nil {
				errors = append(errors, ScanError{
					Source: source.Name,
					Path:   path,
					Error:  err.Error(),
				})
				continue
			}

			if cred != nil && (cred.AccessToken != "" || cred.RefreshToken != "") {
				log.Debug("discovered credential", "source", source.Name, "path", path)
				credentials = append(credentials, *cred)
			}
		}
	}

	return credentials, errors
}

// MaskToken returns a masked version of a token for display
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// MaskCredential returns a copy of the credential with masked tokens
func MaskCredential(cred Credential) Credential {
	masked := cred
	masked.AccessToken = MaskToken(cred.AccessToken)
	masked.RefreshToken = MaskToken(cred.RefreshToken)
	return masked
}
