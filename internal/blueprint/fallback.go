package blueprint

import "github.com/aryan0dhankhar/sitefactory/internal/domain"

const (
	homeContent = `<h1>Welcome to {{businessName}}</h1>` +
		`<p>{{description}}</p>` +
		`<p>We're here to serve you with excellence and professionalism.</p>`

	aboutContent = `<h1>About {{businessName}}</h1>` +
		`<p>We are a dedicated {{businessType}} committed to providing exceptional service to our clients.</p>` +
		`<p>Our team brings years of experience and expertise to every project.</p>`

	contactContent = `<h1>Contact {{businessName}}</h1>` +
		`<h3>Address</h3><p>{{street}}<br>{{city}}, {{state}} {{zip}}</p>` +
		`<h3>Contact Information</h3>` +
		`<p>Email: <a href='mailto:{{email}}'>{{email}}</a><br>Phone: {{phone}}</p>` +
		`<h3>Business Hours</h3>` +
		`<p>Monday - Friday: 9:00 AM - 5:00 PM<br>Saturday: 10:00 AM - 2:00 PM<br>Sunday: Closed</p>`
)

// DefaultPages builds the Home/About/Contact site, Home being the front page
func DefaultPages(meta map[string]string) []domain.PageDescriptor {
	return []domain.PageDescriptor{
		{Title: "Home", Slug: "home", IsFrontPage: true, Content: Substitute(homeContent, meta)},
		{Title: "About", Slug: "about", Content: Substitute(aboutContent, meta)},
		{Title: "Contact", Slug: "contact", Content: Substitute(contactContent, meta)},
	}
}

// Fallback is the tree used when a blueprint cannot be resolved or rendered
func Fallback(blueprintID string, meta map[string]string) domain.PageTree {
	return domain.PageTree{
		BlueprintID: blueprintID,
		Fallback:    true,
		SiteTitle:   fieldOr(meta, "businessName"),
		Tagline:     meta["description"],
		Pages:       DefaultPages(meta),
	}
}
