package configstore

import (
	"fmt"
	"regexp"

	"github.com/imyashkale/hera/internal/apperrors"
	"github.com/imyashkale/hera/internal/models"
	"github.com/tidwall/gjson"
)

// Artifact kinds
const (
	KindTemplatePack   = "template_pack"
	KindEntityTemplate = "entity_template"
	KindTheme          = "theme"
)

var keyPartPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateKey checks that both key parts are safe path segments
func ValidateKey(key models.ArtifactKey) error {
	var details []string
	if !keyPartPattern.MatchString(key.Industry) {
		details = append(details, fmt.Sprintf("industry %q must be lowercase letters, digits, '-' or '_'", key.Industry))
	}
	if !keyPartPattern.MatchString(key.ID) {
		details = append(details, fmt.Sprintf("id %q must be lowercase letters, digits, '-' or '_'", key.ID))
	}
	if len(details) > 0 {
		return apperrors.Validation("configstore.ValidateKey", "invalid artifact key", details...)
	}
	return nil
}

// ValidateArtifact performs the structural check applied before an artifact
// is stored: valid JSON, id/kind/version present, id matching the key, and
// the kind's required member.
func ValidateArtifact(key models.ArtifactKey, content []byte) error {
	const op = "configstore.ValidateArtifact"

	if !gjson.ValidBytes(content) {
		return apperrors.Validation(op, "artifact is not valid JSON")
	}
	doc := gjson.ParseBytes(content)
	if !doc.IsObject() {
		return apperrors.Validation(op, "artifact must be a JSON object")
	}

	var details []string
	for _, field := range []string{"id", "kind", "version"} {
		v := doc.Get(field)
		if !v.Exists() || v.Type != gjson.String || v.String() == "" {
			details = append(details, fmt.Sprintf("%s must be a non-empty string", field))
		}
	}
	if id := doc.Get("id"); id.Exists() && id.String() != key.ID {
		details = append(details, fmt.Sprintf("id %q does not match key %q", id.String(), key.ID))
	}

	switch kind := doc.Get("kind").String(); kind {
	case KindTemplatePack:
		if !doc.Get("modules").IsArray() {
			details = append(details, "template_pack requires a modules array")
		}
	case KindEntityTemplate:
		if !doc.Get("fields").IsArray() {
			details = append(details, "entity_template requires a fields array")
		}
	case KindTheme:
		if !doc.Get("colors").IsObject() {
			details = append(details, "theme requires a colors object")
		}
	case "":
	default:
		details = append(details, fmt.Sprintf("unknown kind %q", kind))
	}

	if len(details) > 0 {
		return apperrors.Validation(op, "artifact failed schema validation", details...)
	}
	return nil
}

// PackModules returns the module ids listed by a template pack. Modules may
// be given as strings or as objects with an "id" member.
func PackModules(content []byte) []string {
	var modules []string
	gjson.GetBytes(content, "modules").ForEach(func(_, value gjson.Result) bool {
		switch {
		case value.Type == gjson.String:
			modules = append(modules, value.String())
		case value.IsObject() && value.Get("id").Exists():
			modules = append(modules, value.Get("id").String())
		}
		return true
	})
	return modules
}

// ArtifactVersion reads the version member
func ArtifactVersion(content []byte) string {
	return gjson.GetBytes(content, "version").String()
}

// ArtifactKind reads the kind member
func ArtifactKind(content []byte) string {
	return gjson.GetBytes(content, "kind").String()
}
