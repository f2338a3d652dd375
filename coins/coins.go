package coins

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"vitrine/common"
	"vitrine/models"
)

const (
	// WelcomeBonus is granted once, at registration.
	WelcomeBonus = 50
	// referralBonus is credited to the referrer on every 2nd referral.
	referralBonus = 10
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrRecipientNotFound   = errors.New("recipient not found")
	ErrSelfTransfer        = errors.New("self transfer")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyReferred     = errors.New("already referred")
	ErrReferrerNotFound    = errors.New("referrer not found")
	ErrSelfReferral        = errors.New("self referral")
)

type CoinsModule struct {
	db *gorm.DB
}

func NewCoinsModule(db *gorm.DB) *CoinsModule {
	return &CoinsModule{db: db}
}

func (m *CoinsModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/coins")
	group.Use(common.RequireAuth(m.db))
	{
		group.GET("/balance", m.balance)
		group.GET("/transactions", m.listTransactions)
		group.POST("/transfer", m.transferPost)
		group.POST("/referral", m.referralPost)
	}
}

// findProfileByIdentifier resolves a profile by referral code first, then by
// email. Only a not-found on the code lookup falls through to email.
func findProfileByIdentifier(tx *gorm.DB, identifier string) (*models.Profile, error) {
	var profile models.Profile
	err := tx.Where("referral_code = ?", identifier).First(&profile).Error
	if err == nil {
		return &profile, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err := tx.Where("email = ?", identifier).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// debit takes amount coins from a profile only when the balance covers it.
func debit(tx *gorm.DB, userID, amount int) error {
	res := tx.Model(&models.Profile{}).
		Where("id = ? AND coin_points >= ?", userID, amount).
		UpdateColumn("coin_points", gorm.Expr("coin_points - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func credit(tx *gorm.DB, userID, amount int) error {
	return tx.Model(&models.Profile{}).
		Where("id = ?", userID).
		UpdateColumn("coin_points", gorm.Expr("coin_points + ?", amount)).Error
}

// Transfer moves coins between two profiles. Debit, credit and the ledger row
// are committed together or not at all.
func (m *CoinsModule) Transfer(senderID int, recipient string, amount int, description string) (*models.CoinTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var row *models.CoinTransaction
	err := m.db.Transaction(func(tx *gorm.DB) error {
		rec, err := findProfileByIdentifier(tx, recipient)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecipientNotFound
		}
		if err != nil {
			return err
		}
		if rec.ID == senderID {
			return ErrSelfTransfer
		}

		if err := debit(tx, senderID, amount); err != nil {
			return err
		}
		if err := credit(tx, rec.ID, amount); err != nil {
			return err
		}

		sid := senderID
		row = &models.CoinTransaction{
			SenderID:        &sid,
			RecipientID:     rec.ID,
			Amount:          amount,
			TransactionType: models.TxTypeTransfer,
			Description:     description,
			CreatedAt:       time.Now(),
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// ApplyReferralCode links a user to a referrer, once. Every 2nd referral
// credits the referrer with a bonus.
func (m *CoinsModule) ApplyReferralCode(userID int, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	return m.db.Transaction(func(tx *gorm.DB) error {
		var user models.Profile
		if err := tx.First(&user, userID).Error; err != nil {
			return err
		}
		if user.ReferredBy != nil {
			return ErrAlreadyReferred
		}

		var referrer models.Profile
		if err := tx.Where("referral_code = ?", code).First(&referrer).Error; err != nil {
			return ErrReferrerNotFound
		}
		if referrer.ID == userID {
			return ErrSelfReferral
		}

		if err := tx.Model(&user).UpdateColumn("referred_by", referrer.ID).Error; err != nil {
			return err
		}

		newCount := referrer.ReferralCount + 1
		if err := tx.Model(&referrer).UpdateColumn("referral_count", newCount).Error; err != nil {
			return err
		}

		if newCount%2 == 0 {
			if err := credit(tx, referrer.ID, referralBonus); err != nil {
				return err
			}
			bonus := models.CoinTransaction{
				RecipientID:     referrer.ID,
				Amount:          referralBonus,
				TransactionType: models.TxTypeReferralBonus,
				Description:     fmt.Sprintf("Bonus de parrainage (%d filleuls)", newCount),
				CreatedAt:       time.Now(),
			}
			if err := tx.Create(&bonus).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

// GrantWelcomeTx credits the starting balance inside an existing transaction.
// Registration is the only caller; the lazy profile-repair path never grants.
func GrantWelcomeTx(tx *gorm.DB, userID int) error {
	if err := credit(tx, userID, WelcomeBonus); err != nil {
		return err
	}
	row := models.CoinTransaction{
		RecipientID:     userID,
		Amount:          WelcomeBonus,
		TransactionType: models.TxTypeWelcomeBonus,
		Description:     "Bonus de bienvenue",
		CreatedAt:       time.Now(),
	}
	return tx.Create(&row).Error
}

// AdminAdjust credits (amount > 0) or debits (amount < 0) a profile on behalf
// of an administrator. The ledger row keeps a nil sender: coins come from the
// system.
func (m *CoinsModule) AdminAdjust(identifier string, amount int, description string) (*models.CoinTransaction, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	var row *models.CoinTransaction
	err := m.db.Transaction(func(tx *gorm.DB) error {
		rec, err := findProfileByIdentifier(tx, identifier)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecipientNotFound
		}
		if err != nil {
			return err
		}

		txType := models.TxTypeAdminCredit
		if amount > 0 {
			if err := credit(tx, rec.ID, amount); err != nil {
				return err
			}
		} else {
			txType = models.TxTypeAdminDebit
			if err := debit(tx, rec.ID, -amount); err != nil {
				return err
			}
		}

		row = &models.CoinTransaction{
			RecipientID:     rec.ID,
			Amount:          amount,
			TransactionType: txType,
			Description:     description,
			CreatedAt:       time.Now(),
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// SpendTx debits a premium action inside an existing transaction.
func SpendTx(tx *gorm.DB, userID, amount int, txType, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if err := debit(tx, userID, amount); err != nil {
		return err
	}
	row := models.CoinTransaction{
		RecipientID:     userID,
		Amount:          -amount,
		TransactionType: txType,
		Description:     description,
		CreatedAt:       time.Now(),
	}
	return tx.Create(&row).Error
}

// Spend debits a premium action in its own transaction.
func (m *CoinsModule) Spend(userID, amount int, txType, description string) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		return SpendTx(tx, userID, amount, txType, description)
	})
}

// Refund compensates a failed premium action with a credit row. The original
// debit row is never deleted.
func (m *CoinsModule) Refund(userID, amount int, description string) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := credit(tx, userID, amount); err != nil {
			return err
		}
		row := models.CoinTransaction{
			RecipientID:     userID,
			Amount:          amount,
			TransactionType: models.TxTypeRefund,
			Description:     description,
			CreatedAt:       time.Now(),
		}
		return tx.Create(&row).Error
	})
}

func (m *CoinsModule) balance(c *gin.Context) {
	profile := common.CurrentProfile(c)

	// Re-read: the session copy may predate a concurrent credit.
	var fresh models.Profile
	if err := m.db.First(&fresh, profile.ID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors du chargement du solde"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"coin_points":    fresh.CoinPoints,
		"referral_code":  fresh.ReferralCode,
		"referral_count": fresh.ReferralCount,
	})
}

func (m *CoinsModule) listTransactions(c *gin.Context) {
	userID := c.GetInt("user_id")

	var transactions []models.CoinTransaction
	if err := m.db.Where("recipient_id = ? OR sender_id = ?", userID, userID).
		Order("created_at DESC").
		Limit(50).
		Find(&transactions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors du chargement des transactions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}

func (m *CoinsModule) transferPost(c *gin.Context) {
	userID := c.GetInt("user_id")

	var request struct {
		Recipient   string `json:"recipient"`
		Amount      int    `json:"amount"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides"})
		return
	}
	if request.Recipient == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Destinataire requis"})
		return
	}

	row, err := m.Transfer(userID, request.Recipient, request.Amount, request.Description)
	switch {
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Le montant doit être positif"})
	case errors.Is(err, ErrRecipientNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Destinataire introuvable"})
	case errors.Is(err, ErrSelfTransfer):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Vous ne pouvez pas vous envoyer des pièces"})
	case errors.Is(err, ErrInsufficientBalance):
		var profile models.Profile
		m.db.First(&profile, userID)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Solde insuffisant : vous avez %d pièces", profile.CoinPoints),
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors du transfert"})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "transaction": row})
	}
}

func (m *CoinsModule) referralPost(c *gin.Context) {
	userID := c.GetInt("user_id")

	var request struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || request.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Code de parrainage requis"})
		return
	}

	err := m.ApplyReferralCode(userID, request.Code)
	switch {
	case errors.Is(err, ErrAlreadyReferred):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Vous avez déjà utilisé un code de parrainage"})
	case errors.Is(err, ErrReferrerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Code de parrainage introuvable"})
	case errors.Is(err, ErrSelfReferral):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Vous ne pouvez pas utiliser votre propre code"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de l'application du code"})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
