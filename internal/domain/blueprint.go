package domain

// PageDescriptor is one page of a blueprint after token substitution
type PageDescriptor struct {
	Title       string
	Slug        string
	IsFrontPage bool
	Content     string
}

// PageTree is the ordered content produced for a new tenant
type PageTree struct {
	BlueprintID string
	Fallback    bool
	SiteTitle   string
	Tagline     string
	Pages       []PageDescriptor
}

// BlueprintInfo describes a catalog entry served by GET /templates
type BlueprintInfo struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Preview     string `json:"preview" yaml:"preview"`
	File        string `json:"-" yaml:"file"`
}
