package site

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Limits on the nested site document.
const (
	maxProductsAtCreation = 3
	maxProducts           = 5
	maxTestimonials       = 5
	maxSkills             = 6
)

// SiteData is the JSON document stored in sites.site_data. The wizard fills
// it section by section; the public renderer reads it back.
type SiteData struct {
	Branding     Branding      `json:"branding"`
	Hero         Hero          `json:"hero"`
	About        string        `json:"about"` // markdown
	Products     []Product     `json:"products"`
	Testimonials []Testimonial `json:"testimonials"`
	Skills       []Skill       `json:"skills"`
	Contact      Contact       `json:"contact"`
	Payment      Payment       `json:"payment"`
	Social       Social        `json:"social"`
	Sections     Sections      `json:"sections"`
}

type Branding struct {
	SiteName       string `json:"site_name"`
	Tagline        string `json:"tagline"`
	PrimaryColor   string `json:"primary_color"`
	SecondaryColor string `json:"secondary_color"`
	LogoURL        string `json:"logo_url"`
}

type Hero struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	ImageURL string `json:"image_url"`
	CTALabel string `json:"cta_label"`
}

type Product struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	ImageURL    string  `json:"image_url"`
}

type Testimonial struct {
	Author string `json:"author"`
	Quote  string `json:"quote"`
	Rating int    `json:"rating"`
}

type Skill struct {
	Name  string `json:"name"`
	Level string `json:"level"`
}

type Contact struct {
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	WhatsApp string `json:"whatsapp"`
}

type Payment struct {
	Enabled         bool     `json:"enabled"`
	Methods         []string `json:"methods"`
	DeliveryEnabled bool     `json:"delivery_enabled"`
	DeliveryFee     float64  `json:"delivery_fee"`
	DeliveryZone    string   `json:"delivery_zone"`
}

type Social struct {
	Facebook  string `json:"facebook"`
	Instagram string `json:"instagram"`
	TikTok    string `json:"tiktok"`
	LinkedIn  string `json:"linkedin"`
}

// Sections toggles the visibility of each block on the public site.
type Sections struct {
	ShowAbout        bool `json:"show_about"`
	ShowProducts     bool `json:"show_products"`
	ShowTestimonials bool `json:"show_testimonials"`
	ShowSkills       bool `json:"show_skills"`
	ShowContact      bool `json:"show_contact"`
}

// Validate returns field-level errors, keyed by JSON path. The product cap is
// tighter at creation: the wizard collects at most 3, the dashboard up to 5.
func (d *SiteData) Validate(creating bool) map[string]string {
	fields := map[string]string{}

	if strings.TrimSpace(d.Branding.SiteName) == "" {
		fields["branding.site_name"] = "Le nom du site est requis"
	}
	if strings.TrimSpace(d.Hero.Title) == "" {
		fields["hero.title"] = "Le titre d'accueil est requis"
	}

	productCap := maxProducts
	if creating {
		productCap = maxProductsAtCreation
	}
	if len(d.Products) > productCap {
		fields["products"] = fmt.Sprintf("Au maximum %d produits ou services", productCap)
	}
	for i, p := range d.Products {
		if strings.TrimSpace(p.Name) == "" {
			fields[fmt.Sprintf("products.%d.name", i)] = "Le nom du produit est requis"
		}
		if p.Price < 0 {
			fields[fmt.Sprintf("products.%d.price", i)] = "Le prix ne peut pas être négatif"
		}
	}

	if len(d.Testimonials) > maxTestimonials {
		fields["testimonials"] = fmt.Sprintf("Au maximum %d témoignages", maxTestimonials)
	}
	for i, t := range d.Testimonials {
		if t.Rating < 0 || t.Rating > 5 {
			fields[fmt.Sprintf("testimonials.%d.rating", i)] = "La note doit être entre 0 et 5"
		}
	}

	if len(d.Skills) > maxSkills {
		fields["skills"] = fmt.Sprintf("Au maximum %d compétences", maxSkills)
	}

	if d.Contact.Email != "" && !strings.Contains(d.Contact.Email, "@") {
		fields["contact.email"] = "Adresse email invalide"
	}

	if d.Payment.Enabled && len(d.Payment.Methods) == 0 {
		fields["payment.methods"] = "Au moins un moyen de paiement est requis"
	}

	return fields
}

func parseSiteData(raw string) (*SiteData, error) {
	var data SiteData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (d *SiteData) encode() (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
