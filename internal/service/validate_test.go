package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
)

func TestValidateNormalises(t *testing.T) {
	req, base, err := Validate(CreateSiteInput{
		BusinessName: "  Acme Corp ",
		Email:        "Owner@Acme.Example",
		Phone:        "+1 (555) 010-0200",
		Address:      domain.Address{City: " Springfield "},
		Template:     "cpa-onepage",
	})
	require.NoError(t, err)
	assert.Equal(t, "acme-corp", base)
	assert.Equal(t, "Acme Corp", req.BusinessName)
	assert.Equal(t, "owner@acme.example", req.AdminEmail)
	assert.Equal(t, "cpa-onepage", req.BlueprintID)
	assert.Equal(t, "Springfield", req.Address.City)
}

func TestValidateDefaultsAndDesiredSlug(t *testing.T) {
	req, base, err := Validate(CreateSiteInput{BusinessName: "Acme", Email: "a@x.com", DesiredSlug: "Acme Widgets", Template: "business-card", Blueprint: "default"})
	require.NoError(t, err)
	assert.Equal(t, "acme-widgets", base)
	assert.Equal(t, "default", req.BlueprintID)

	req, _, err = Validate(CreateSiteInput{BusinessName: "Acme", Email: "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "default", req.BlueprintID)
}

func TestValidateRejects(t *testing.T) {
	ok := CreateSiteInput{BusinessName: "Acme", Email: "a@x.com"}
	tests := []struct {
		name string
		mod  func(in *CreateSiteInput)
	}{
		{"missing name", func(in *CreateSiteInput) { in.BusinessName = "  " }},
		{"long name", func(in *CreateSiteInput) { in.BusinessName = strings.Repeat("a", 101) }},
		{"name without letters", func(in *CreateSiteInput) { in.BusinessName = "!!!" }},
		{"missing email", func(in *CreateSiteInput) { in.Email = "" }},
		{"bad email", func(in *CreateSiteInput) { in.Email = "not-an-email" }},
		{"display name email", func(in *CreateSiteInput) { in.Email = "Bob <bob@x.com>" }},
		{"bad phone", func(in *CreateSiteInput) { in.Phone = "call me maybe" }},
		{"bad blueprint", func(in *CreateSiteInput) { in.Blueprint = "../etc/passwd" }},
		{"bad meta key", func(in *CreateSiteInput) { in.Meta = map[string]string{"a b": "x"} }},
		{"script tag", func(in *CreateSiteInput) { in.Description = "hi <SCRIPT>x</script>" }},
		{"javascript url", func(in *CreateSiteInput) { in.Address.Street = "JavaScript:alert(1)" }},
		{"event handler", func(in *CreateSiteInput) { in.BusinessType = `x" onerror=alert(1)` }},
		{"cookie theft in meta", func(in *CreateSiteInput) { in.Meta = map[string]string{"tagline": "document.cookie"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := ok
			tt.mod(&in)
			_, _, err := Validate(in)
			requireKind(t, err, KindValidation)
		})
	}
}

func TestPayloadOmitsUnsetOptionalFields(t *testing.T) {
	p := CreateSiteInput{BusinessName: "Acme", Email: "a@x.com"}.Payload()
	assert.Equal(t, "Acme", p["businessName"])
	assert.NotContains(t, p, "token")
	assert.NotContains(t, p, "meta")
}
