package coins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"vitrine/models"
)

func setupTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		panic("failed to connect database")
	}

	db.AutoMigrate(&models.Profile{}, &models.CoinTransaction{})
	return db
}

func createTestProfile(db *gorm.DB, email, referralCode string, balance int) *models.Profile {
	profile := &models.Profile{
		Email:        email,
		PasswordHash: "hash",
		FullName:     "Test User",
		Role:         models.RoleUser,
		ReferralCode: referralCode,
		CoinPoints:   balance,
	}
	db.Create(profile)
	return profile
}

func TestTransfer_Success(t *testing.T) {
	db := setupTestDB()
	coinsModule := NewCoinsModule(db)

	sender := createTestProfile(db, "sender@example.com", "AAAAAA", 100)
	recipient := createTestProfile(db, "recipient@example.com", "BBBBBB", 100)

	row, err := coinsModule.Transfer(sender.ID, "BBBBBB", 30, "Merci !")
	assert.NoError(t, err)
	assert.Equal(t, 30, row.Amount)
	assert.Equal(t, models.TxTypeTransfer, row.TransactionType)
	assert.Equal(t, recipient.ID, row.RecipientID)

	var updatedSender, updatedRecipient models.Profile
	db.First(&updatedSender, sender.ID)
	db.First(&updatedRecipient, recipient.ID)

	assert.Equal(t, 70, updatedSender.CoinPoints)
	assert.Equal(t, 130, updatedRecipient.CoinPoints)
}

func TestTransfer_ByEmail(t *testing.T) {
	db := setupTestDB()
	coinsModule := NewCoinsModule(db)

	sender := createTestProfile(db, "sender@example.com", "AAAAAA", 50)
	recipient := createTestProfile(db, "recipient@example.com", "BBBBBB", 0)

	_, err := coinsModule.Transfer(sender.ID, "recipient@example.com", 50, "")
	assert.NoError(t, err)

	var updatedRecipient models.Profile
	db.First(&updatedRecipient, recipient.ID)
	assert.Equal(t, 50, updatedRecipient.CoinPoints)
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	db := setupTestDB()
	coinsModule := NewCoinsModule(db)

	sender := createTestProfile(db, "sender@example.com", "AAAAAA", 10)
	recipient := createTestProfile(db, "recipient@example.com", "BBBBBB", 0)

	_, err := coinsModule.Transfer(sender.ID, "BBBBBB", 50, "")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// the failed transfer must leave no trace
	var updatedSender, updatedRecipient models.Profile
	db.First(&updatedSender, sender.ID)
	db.First(&updatedRecipient, recipient.ID)
	assert.Equal(t, 10, updatedSender.CoinPoints)
	assert.Equal(t, 0, updatedRecipient.CoinPoints)

	var count int64
	db.Model(&models.CoinTransaction{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestTransfer_SelfTransfer(t *testing.T) {
	db := setupTestDB()
	coinsModule := NewCoinsModule(db)

	sender := createTestProfile(db, "sender@example.com", "AAAAAA", 100)

	_, err := coinsModule.Transfer(sender.ID, "AAAAAA", 10, "")
	assert.ErrorIs(t, err, ErrSelfTransfer)

	_, err = coinsModule.Transfer(sender.ID, "sender@example.com", 10, "")
	assert.ErrorIs(t, err, ErrSelfTransfer)
}

func TestTransfer_InvalidAmount(t *testing.T) {
	db := setupTestDB()
	coinsModule := NewCoinsModule(db)

	sender := createTestProfile(db, "sender@example.com", "AAAAAA", 100)
	createTestProfile(db, "recipient@example.com", "BBBBBB", 0)

	_, err := coinsModule.Transfer(sender.ID, "BBBBBB", 0, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = coinsModule.Transfer(sender.ID, "BBBBBB", -5, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestTransfer_RecipientNotFound(t *testing.T) {
	db := setupTestDB()
	coinsModule := NewCoinsModule(db)

	sender := createTestProfile(db, "sender@example.com", "AAAAAA", 100)

	_, err := coinsModule.Transfer(sender.ID, "ZZZZZZ", 10, "")
	assert.ErrorIs(t, err, ErrRecipientNotFound)
}

func TestTransfer_DatabaseError(t *testing.T) {
	db := setupTestDB()
	coinsModule := NewCoinsModule(db)

	sender := createTestProfile(db, "sender@example.com", "AAAAAA", 100)
	db.Exec("DROP TABLE profiles")

	// A broken database must not masquerade as a missing recipient.
	_, err := coinsModule.Transfer(sender.ID, "BBBBBB", 10, "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrRecipientNotFound)
}

func TestApplyReferralCode_FirstReferral(t *testing.T) {
	db := setupTestDB()
	coinsModule := NewCoinsModule(db)

	referrer := createTestProfile(db, "referrer@example.com", "AAAAAA", 0)
	referred := createTestProfile(db, "referred@example.com", "BBBBBB", 0)

	err := coinsModule.ApplyReferralCode(referred.ID, "AAAAAA")
	assert.NoError(t, err)

	var updatedReferrer, updatedReferred models.Profile
	db.First(&updatedReferrer, referrer.ID)
	db.First(&updatedReferred, referred.ID)

	assert.Equal(t, 1, updatedReferrer.ReferralCount)
	assert.NotNil(t, updatedReferred.ReferredBy)
	assert.Equal(t, referrer.ID, *updatedReferred.ReferredBy)

	// first referral pays nothing
	assert.Equal(t, 0, updatedReferrer.CoinPoints)
}

func TestApplyReferralCode_LowercaseInput(t *testing.T) {
	db := setupTestDB()
	coinsModule := NewCoinsModule(db)

	referrer := createTestProfile(db, "referrer@example.com", "AAAAAA", 0)
	referred := createTestProfile(db, "referred@example.com", "BBBBBB", 0)

	// Codes are stored uppercase; user input arrives in any case.
	err := coinsModule.ApplyReferralCode(referred.ID, "  aaaaaa ")
	assert.NoError(t, err)

	var updatedReferred models.Profile
	db.First(&updatedReferred, referred.ID)
	assert.NotNil(t, updatedReferred.ReferredBy)
	assert.Equal(t, referrer.ID, *updatedReferred.ReferredBy)
}

func TestApplyReferralCode_SecondReferralPaysBonus(t *testing.T) {
	db := setupTestDB()
	coinsModule := NewCoinsModule(db)

	referrer := createTestProfile(db, "referrer@example.com", "AAAAAA", 0)
	first := createTestProfile(db, "first@example.com", "BBBBBB", 0)
	second := createTestProfile(db, "second@example.com", "CCCCCC", 0)

	assert.NoError(t, coinsModule.ApplyReferralCode(first.ID, "AAAAAA"))
	assert.NoError(t, coinsModule.ApplyReferralCode(second.ID, "AAAAAA"))

	var updatedReferrer models.Profile
	db.First(&updatedReferrer, referrer.ID)

	assert.Equal(t, 2, updatedReferrer.ReferralCount)
	assert.Equal(t, 10, updatedReferrer.CoinPoints)

	var bonus models.CoinTransaction
	err := db.Where("recipient_id = ? AND transaction_type = ?",
		referrer.ID, models.TxTypeReferralBonus).First(&bonus).Error
	assert.NoError(t, err)
	assert.Equal(t, 10, bonus.Amount)
	assert.Nil(t, bonus.SenderID)
}

func TestApplyReferralCode_Twice(t *testing.T) {
	db := setupTestDB()
	coinsModule := NewCoinsModule(db)

	createTestProfile(db, "referrer@example.com", "AAAAAA", 0)
	createTestProfile(db, "other@example.com", "BBBBBB", 0)
	referred := createTestProfile(db, "referred@example.com", "CCCCCC", 0)

	assert.NoError(t, coinsModule.ApplyReferralCode(referred.ID, "AAAAAA"))

	err := coinsModule.ApplyReferralCode(referred.ID, "BBBBBB")
	assert.ErrorIs(t, err, ErrAlreadyReferred)
}

func TestApplyReferralCode_Self(t *testing.T) {
	db := setupTestDB()
	coinsModule := NewCoinsModule(db)

	user := createTestProfile(db, "user@example.com", "AAAAAA", 0)

	err := coinsModule.ApplyReferralCode(user.ID, "AAAAAA")
	assert.ErrorIs(t, err, ErrSelfReferral)
}

func TestApplyReferralCode_UnknownCode(t *testing.T) {
	db := setupTestDB()
	coinsModule := NewCoinsModule(db)

	user := createTestProfile(db, "user@example.com", "AAAAAA", 0)

	err := coinsModule.ApplyReferralCode(user.ID, "ZZZZZZ")
	assert.ErrorIs(t, err, ErrReferrerNotFound)
}

func TestAdminAdjust_Credit(t *testing.T) {
	db := setupTestDB()
	coinsModule := NewCoinsModule(db)

	user := createTestProfile(db, "user@example.com", "AAAAAA", 5)

	row, err := coinsModule.AdminAdjust("user@example.com", 100, "Cadeau")
	assert.NoError(t, err)
	assert.Equal(t, models.TxTypeAdminCredit, row.TransactionType)
	assert.Nil(t, row.SenderID)

	var updated models.Profile
	db.First(&updated, user.ID)
	assert.Equal(t, 105, updated.CoinPoints)
}

func TestAdminAdjust_Debit(t *testing.T) {
	db := setupTestDB()
	coinsModule := NewCoinsModule(db)

	user := createTestProfile(db, "user@example.com", "AAAAAA", 50)

	row, err := coinsModule.AdminAdjust("AAAAAA", -20, "Correction")
	assert.NoError(t, err)
	assert.Equal(t, models.TxTypeAdminDebit, row.TransactionType)
	assert.Equal(t, -20, row.Amount)

	var updated models.Profile
	db.First(&updated, user.ID)
	assert.Equal(t, 30, updated.CoinPoints)
}

func TestAdminAdjust_DebitBeyondBalance(t *testing.T) {
	db := setupTestDB()
	coinsModule := NewCoinsModule(db)

	user := createTestProfile(db, "user@example.com", "AAAAAA", 10)

	_, err := coinsModule.AdminAdjust("AAAAAA", -50, "")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	var updated models.Profile
	db.First(&updated, user.ID)
	assert.Equal(t, 10, updated.CoinPoints)
}

func TestSpendAndRefund(t *testing.T) {
	db := setupTestDB()
	coinsModule := NewCoinsModule(db)

	user := createTestProfile(db, "user@example.com", "AAAAAA", 50)

	err := coinsModule.Spend(user.ID, 20, models.TxTypeAIVideoGeneration, "Génération de vidéo IA")
	assert.NoError(t, err)

	var updated models.Profile
	db.First(&updated, user.ID)
	assert.Equal(t, 30, updated.CoinPoints)

	err = coinsModule.Refund(user.ID, 20, "Remboursement")
	assert.NoError(t, err)

	db.First(&updated, user.ID)
	assert.Equal(t, 50, updated.CoinPoints)

	// both legs stay in the ledger
	var rows []models.CoinTransaction
	db.Where("recipient_id = ?", user.ID).Order("id").Find(&rows)
	assert.Len(t, rows, 2)
	assert.Equal(t, -20, rows[0].Amount)
	assert.Equal(t, models.TxTypeAIVideoGeneration, rows[0].TransactionType)
	assert.Equal(t, 20, rows[1].Amount)
	assert.Equal(t, models.TxTypeRefund, rows[1].TransactionType)
}

func TestGrantWelcome(t *testing.T) {
	db := setupTestDB()

	user := createTestProfile(db, "user@example.com", "AAAAAA", 0)

	err := db.Transaction(func(tx *gorm.DB) error {
		return GrantWelcomeTx(tx, user.ID)
	})
	assert.NoError(t, err)

	var updated models.Profile
	db.First(&updated, user.ID)
	assert.Equal(t, WelcomeBonus, updated.CoinPoints)

	var row models.CoinTransaction
	db.Where("recipient_id = ?", user.ID).First(&row)
	assert.Equal(t, models.TxTypeWelcomeBonus, row.TransactionType)
	assert.Equal(t, WelcomeBonus, row.Amount)
}
