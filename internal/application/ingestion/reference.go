package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"regexp"
	"strings"
)

var caseRefPattern = regexp.MustCompile(`[A-Z][/-]\d{4,}[/-]\d{2,}`)

// UnknownPrefix marks references synthesised from the object key.
const UnknownPrefix = "UNKNOWN-"

// DeriveCaseReference finds the case reference in the object's file name,
// then in the first page text. Separators are normalised to '/'. When neither
// matches, a stable reference is derived from the object key and found is
// false.
func DeriveCaseReference(objectKey, firstPage string) (ref string, found bool) {
	for _, s := range []string{path.Base(objectKey), firstPage} {
		if m := caseRefPattern.FindString(s); m != "" {
			return strings.ReplaceAll(m, "-", "/"), true
		}
	}
	sum := sha256.Sum256([]byte(objectKey))
	return UnknownPrefix + hex.EncodeToString(sum[:])[:12], false
}

// StorageID is the reference as it appears in object names.
func StorageID(caseRef string) string {
	return strings.ReplaceAll(caseRef, "/", "-")
}

// IsIngestible reports whether key names a document ingestion handles.
func IsIngestible(key string) bool {
	return strings.EqualFold(path.Ext(key), ".pdf")
}
