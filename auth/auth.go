package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"vitrine/coins"
	"vitrine/common"
	emailpkg "vitrine/email"
	"vitrine/models"
)

// referral codes avoid 0/O and 1/I to stay readable when shared aloud
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

type AuthModule struct {
	db        *gorm.DB
	email     *emailpkg.EmailService
	coins     *coins.CoinsModule
	jwtSecret string
}

func NewAuthModule(db *gorm.DB, emailService *emailpkg.EmailService, coinsModule *coins.CoinsModule, jwtSecret string) *AuthModule {
	return &AuthModule{
		db:        db,
		email:     emailService,
		coins:     coinsModule,
		jwtSecret: jwtSecret,
	}
}

func (a *AuthModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/auth")
	{
		group.POST("/register", a.register)
		group.POST("/login", a.login)
		group.POST("/logout", a.logout)
		group.GET("/confirm/:token", a.confirmEmail)
		group.GET("/magic/:token", a.magicLogin)
	}

	router.GET("/api/auth/me", common.RequireAuth(a.db), a.me)
}

func isDuplicateErr(err error) bool {
	if err == gorm.ErrDuplicatedKey {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

func (a *AuthModule) register(c *gin.Context) {
	var request struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		FullName     string `json:"full_name"`
		ReferralCode string `json:"referral_code"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides"})
		return
	}

	fields := map[string]string{}
	request.Email = strings.TrimSpace(strings.ToLower(request.Email))
	if request.Email == "" || !strings.Contains(request.Email, "@") {
		fields["email"] = "Adresse email invalide"
	}
	if len(request.Password) < 8 {
		fields["password"] = "Le mot de passe doit contenir au moins 8 caractères"
	}
	if strings.TrimSpace(request.FullName) == "" {
		fields["full_name"] = "Le nom complet est requis"
	}
	if len(fields) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Formulaire invalide", "fields": fields})
		return
	}

	var existing models.Profile
	if err := a.db.Where("email = ?", request.Email).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Cet email est déjà enregistré"})
		return
	}

	passwordHash, err := hashPassword(request.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de la création du compte"})
		return
	}

	verificationToken, err := generateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de la création du compte"})
		return
	}

	var profile models.Profile
	err = a.db.Transaction(func(tx *gorm.DB) error {
		referralCode, err := a.uniqueReferralCode(tx)
		if err != nil {
			return err
		}

		profile = models.Profile{
			Email:                  request.Email,
			PasswordHash:           passwordHash,
			FullName:               strings.TrimSpace(request.FullName),
			Role:                   models.RoleUser,
			ReferralCode:           referralCode,
			EmailVerified:          false,
			EmailVerificationToken: verificationToken,
			CreatedAt:              time.Now(),
		}
		if err := tx.Create(&profile).Error; err != nil {
			return err
		}

		return coins.GrantWelcomeTx(tx, profile.ID)
	})
	if err != nil {
		// Two registrations racing on the same email both pass the
		// pre-check; the unique index catches the loser here.
		if isDuplicateErr(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "Cet email est déjà enregistré"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de la création du compte"})
		return
	}

	// A bad referral code must not sink the registration.
	if request.ReferralCode != "" {
		if err := a.coins.ApplyReferralCode(profile.ID, strings.ToUpper(request.ReferralCode)); err != nil {
			log.Printf("referral code rejected for %s: %v", profile.Email, err)
		}
	}

	if err := a.email.SendVerificationEmail(profile.Email, verificationToken); err != nil {
		log.Printf("Erreur lors de l'envoi de l'email de vérification à %s: %v", profile.Email, err)
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":            profile.ID,
		"email":         profile.Email,
		"referral_code": profile.ReferralCode,
	})
}

func (a *AuthModule) login(c *gin.Context) {
	var request struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides"})
		return
	}

	var profile models.Profile
	if err := a.db.Where("email = ?", strings.ToLower(request.Email)).First(&profile).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Email ou mot de passe incorrect"})
		return
	}

	if !checkPasswordHash(request.Password, profile.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Email ou mot de passe incorrect"})
		return
	}

	if !profile.EmailVerified {
		c.JSON(http.StatusForbidden, gin.H{"error": "Email non vérifié. Veuillez consulter votre boîte de réception."})
		return
	}

	session := sessions.Default(c)
	session.Set("user_id", profile.ID)
	session.Save()

	c.JSON(http.StatusOK, gin.H{"id": profile.ID, "email": profile.Email, "role": profile.Role})
}

func (a *AuthModule) logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Save()

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *AuthModule) confirmEmail(c *gin.Context) {
	token := c.Param("token")

	var profile models.Profile
	if err := a.db.Where("email_verification_token = ?", token).First(&profile).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Jeton invalide ou expiré"})
		return
	}

	if profile.EmailVerified {
		c.JSON(http.StatusOK, gin.H{"message": "Email déjà confirmé"})
		return
	}

	profile.EmailVerified = true
	profile.EmailVerificationToken = ""

	if err := a.db.Save(&profile).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de la confirmation de l'email"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Email confirmé avec succès ! Vous pouvez maintenant vous connecter."})
}

// me returns the session profile. Profiles written before referral codes
// existed get one backfilled here; the starting balance is never re-granted.
func (a *AuthModule) me(c *gin.Context) {
	profile := common.CurrentProfile(c)

	if profile.ReferralCode == "" {
		err := a.db.Transaction(func(tx *gorm.DB) error {
			code, err := a.uniqueReferralCode(tx)
			if err != nil {
				return err
			}
			profile.ReferralCode = code
			return tx.Model(profile).UpdateColumn("referral_code", code).Error
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors du chargement du profil"})
			return
		}
	}

	c.JSON(http.StatusOK, profile)
}

// magicLogin consumes an impersonation link issued by a super admin.
func (a *AuthModule) magicLogin(c *gin.Context) {
	tokenString := c.Param("token")

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Lien de connexion invalide ou expiré"})
		return
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims["purpose"] != "impersonation" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Lien de connexion invalide ou expiré"})
		return
	}

	sub, ok := claims["sub"].(float64)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Lien de connexion invalide ou expiré"})
		return
	}

	var profile models.Profile
	if err := a.db.First(&profile, int(sub)).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Utilisateur introuvable"})
		return
	}

	session := sessions.Default(c)
	session.Set("user_id", profile.ID)
	session.Save()

	c.JSON(http.StatusOK, gin.H{"id": profile.ID, "email": profile.Email, "role": profile.Role})
}

// uniqueReferralCode draws 6-character codes until one is free.
func (a *AuthModule) uniqueReferralCode(tx *gorm.DB) (string, error) {
	for i := 0; i < 10; i++ {
		code, err := randomCode(6)
		if err != nil {
			return "", err
		}

		var count int64
		if err := tx.Model(&models.Profile{}).Where("referral_code = ?", code).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", errors.New("could not generate a unique referral code")
}

func randomCode(length int) (string, error) {
	code := make([]byte, length)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 14)
	return string(bytes), err
}

func checkPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
