package models

import "time"

// Roles, from least to most privileged.
const (
	RoleUser           = "user"
	RoleCommunityAdmin = "community_admin"
	RoleAdmin          = "admin"
	RoleSuperAdmin     = "super_admin"
)

// Transaction type constants
const (
	TxTypeWelcomeBonus      = "welcome_bonus"
	TxTypeAdminCredit       = "admin_credit"
	TxTypeAdminDebit        = "admin_debit"
	TxTypeReferralBonus     = "referral_bonus"
	TxTypeTransfer          = "transfer"
	TxTypeCommunityCreation = "community_creation"
	TxTypeAIVideoGeneration = "ai_video_generation"
	TxTypeRefund            = "refund"
)

// Site statuses
const (
	SiteStatusDraft     = "draft"
	SiteStatusPublished = "published"
)

type Profile struct {
	ID                     int       `gorm:"primary_key;autoIncrement" json:"id"`
	Email                  string    `gorm:"unique;not null" json:"email"`
	PasswordHash           string    `gorm:"not null" json:"-"` // json:"-" prevents password from being exposed in API
	FullName               string    `json:"full_name"`
	Role                   string    `gorm:"not null;default:'user';index" json:"role"`
	ReferralCode           string    `gorm:"unique;index" json:"referral_code"` // 6 chars, identifies the user as referrer
	ReferralCount          int       `gorm:"not null;default:0" json:"referral_count"`
	CoinPoints             int       `gorm:"not null;default:0" json:"coin_points"`
	ReferredBy             *int      `json:"referred_by,omitempty"` // profile id of the referrer, set once
	EmailVerified          bool      `gorm:"default:false" json:"email_verified"`
	EmailVerificationToken string    `json:"-"`
	CreatedAt              time.Time `json:"created_at"`
}

// CoinTransaction is the append-only coin ledger. A nil SenderID means the
// coins came from the system (welcome bonus, referral bonus, admin grant).
type CoinTransaction struct {
	ID              int       `gorm:"primary_key;autoIncrement" json:"id"`
	SenderID        *int      `gorm:"index" json:"sender_id,omitempty"`
	RecipientID     int       `gorm:"not null;index" json:"recipient_id"`
	Amount          int       `gorm:"not null" json:"amount"` // signed
	TransactionType string    `gorm:"not null;index" json:"transaction_type"`
	Description     string    `gorm:"type:text" json:"description"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}

type Community struct {
	ID          int       `gorm:"primary_key;autoIncrement" json:"id"`
	OwnerID     int       `gorm:"not null;index" json:"owner_id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Objectives  string    `gorm:"type:text" json:"objectives"`
	Category    string    `gorm:"index" json:"category"`
	Template1   string    `json:"template_1,omitempty"` // only set on admin-created communities
	Template2   string    `json:"template_2,omitempty"`
	// no gorm default here: gorm omits zero-value fields that carry a default
	// tag, so is_public=false would never reach the database
	IsPublic  bool      `json:"is_public"`
	JoinCode  *string   `gorm:"uniqueIndex" json:"join_code,omitempty"` // required when private
	CreatedAt time.Time `json:"created_at"`
}

// CommunityMember pairs are unique; joins are monotonic (no leave/kick).
type CommunityMember struct {
	ID          int       `gorm:"primary_key;autoIncrement" json:"id"`
	CommunityID int       `gorm:"not null;uniqueIndex:idx_community_user" json:"community_id"`
	UserID      int       `gorm:"not null;uniqueIndex:idx_community_user;index" json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type Site struct {
	ID           int       `gorm:"primary_key;autoIncrement" json:"id"`
	UserID       int       `gorm:"not null;index" json:"user_id"`
	Subdomain    string    `gorm:"unique;not null;index" json:"subdomain"`
	SiteData     string    `gorm:"type:text" json:"site_data"` // JSON document, see site.SiteData
	Status       string    `gorm:"not null;default:'draft'" json:"status"`
	TemplateType string    `gorm:"index" json:"template_type"`
	IsPublic     bool      `gorm:"default:false" json:"is_public"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SiteAnalytics holds one counter row per site.
type SiteAnalytics struct {
	ID            int   `gorm:"primary_key;autoIncrement" json:"id"`
	SiteID        int   `gorm:"unique;not null" json:"site_id"`
	TotalVisits   int64 `gorm:"not null;default:0" json:"total_visits"`
	TotalSales    int64 `gorm:"not null;default:0" json:"total_sales"`
	TotalContacts int64 `gorm:"not null;default:0" json:"total_contacts"`
}

// SiteMessage is an inbound contact or order message, capped at 30 per site.
type SiteMessage struct {
	ID           int       `gorm:"primary_key;autoIncrement" json:"id"`
	SiteID       int       `gorm:"not null;index" json:"site_id"`
	Name         string    `gorm:"not null" json:"name"`
	Email        string    `json:"email"`
	Message      string    `gorm:"type:text" json:"message"`
	ProductName  string    `json:"product_name,omitempty"`
	ProductPrice float64   `json:"product_price,omitempty"`
	Quantity     int       `json:"quantity,omitempty"`
	ReadStatus   bool      `gorm:"default:false" json:"read_status"`
	CreatedAt    time.Time `json:"created_at"`
}

type PushSubscription struct {
	ID        int       `gorm:"primary_key;autoIncrement" json:"id"`
	UserID    int       `gorm:"not null;index" json:"user_id"`
	Endpoint  string    `gorm:"unique;not null" json:"endpoint"`
	P256dh    string    `gorm:"not null" json:"-"`
	Auth      string    `gorm:"not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
