package community

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"vitrine/coins"
	"vitrine/common"
	"vitrine/models"
)

const (
	// MemberCap is the hard limit on community size.
	MemberCap = 100
	// CreationCost gates community creation behind coins.
	CreationCost = 50
)

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var (
	ErrAlreadyMember = errors.New("already a member")
	ErrWrongJoinCode = errors.New("wrong join code")
	ErrCommunityFull = errors.New("community full")
)

type CommunityModule struct {
	db *gorm.DB
}

func NewCommunityModule(db *gorm.DB) *CommunityModule {
	return &CommunityModule{db: db}
}

func (m *CommunityModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/communities")
	group.Use(common.RequireAuth(m.db))
	{
		group.GET("", m.list)
		group.POST("", m.create)
		group.GET("/:id", m.detail)
		group.POST("/:id/join", m.join)
	}
}

type communityRow struct {
	models.Community
	MemberCount int64 `json:"member_count"`
	IsMember    bool  `json:"is_member"`
}

func (m *CommunityModule) list(c *gin.Context) {
	userID := c.GetInt("user_id")
	search := c.Query("search")
	category := c.Query("category")

	query := m.db.Where("is_public = ? OR owner_id = ?", true, userID)
	if search != "" {
		query = query.Where("name LIKE ?", "%"+search+"%")
	}
	if category != "" {
		query = query.Where("category = ?", category)
	}

	var communities []models.Community
	if err := query.Order("created_at DESC").Find(&communities).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors du chargement des communautés"})
		return
	}

	rows := make([]communityRow, len(communities))
	for i, community := range communities {
		var count int64
		m.db.Model(&models.CommunityMember{}).Where("community_id = ?", community.ID).Count(&count)

		var membership int64
		m.db.Model(&models.CommunityMember{}).
			Where("community_id = ? AND user_id = ?", community.ID, userID).
			Count(&membership)

		// join codes stay private to the owner
		if community.OwnerID != userID {
			community.JoinCode = nil
		}

		rows[i] = communityRow{
			Community:   community,
			MemberCount: count,
			IsMember:    membership > 0,
		}
	}

	c.JSON(http.StatusOK, gin.H{"communities": rows})
}

func (m *CommunityModule) create(c *gin.Context) {
	userID := c.GetInt("user_id")

	var request struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Objectives  string `json:"objectives"`
		Category    string `json:"category"`
		IsPublic    *bool  `json:"is_public"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Données invalides"})
		return
	}

	fields := map[string]string{}
	if request.Name == "" {
		fields["name"] = "Le nom est requis"
	}
	if request.Category == "" {
		fields["category"] = "La catégorie est requise"
	}
	if len(fields) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Formulaire invalide", "fields": fields})
		return
	}

	isPublic := true
	if request.IsPublic != nil {
		isPublic = *request.IsPublic
	}

	var community models.Community
	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := coins.SpendTx(tx, userID, CreationCost, models.TxTypeCommunityCreation,
			fmt.Sprintf("Création de la communauté %s", request.Name)); err != nil {
			return err
		}

		community = models.Community{
			OwnerID:     userID,
			Name:        request.Name,
			Description: request.Description,
			Objectives:  request.Objectives,
			Category:    request.Category,
			IsPublic:    isPublic,
			CreatedAt:   time.Now(),
		}

		if !isPublic {
			code, err := m.uniqueJoinCode(tx)
			if err != nil {
				return err
			}
			community.JoinCode = &code
		}

		if err := tx.Create(&community).Error; err != nil {
			return err
		}

		// the owner is always the first member
		member := models.CommunityMember{
			CommunityID: community.ID,
			UserID:      userID,
			CreatedAt:   time.Now(),
		}
		return tx.Create(&member).Error
	})
	if err != nil {
		if errors.Is(err, coins.ErrInsufficientBalance) {
			var profile models.Profile
			m.db.First(&profile, userID)
			c.JSON(http.StatusForbidden, gin.H{
				"error": fmt.Sprintf("Solde insuffisant : la création coûte %d pièces, vous en avez %d", CreationCost, profile.CoinPoints),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de la création de la communauté"})
		return
	}

	c.JSON(http.StatusCreated, community)
}

func (m *CommunityModule) detail(c *gin.Context) {
	userID := c.GetInt("user_id")
	communityID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Identifiant invalide"})
		return
	}

	var community models.Community
	if err := m.db.First(&community, communityID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Communauté introuvable"})
		return
	}

	var count int64
	m.db.Model(&models.CommunityMember{}).Where("community_id = ?", community.ID).Count(&count)

	var membership int64
	m.db.Model(&models.CommunityMember{}).
		Where("community_id = ? AND user_id = ?", community.ID, userID).
		Count(&membership)

	if community.OwnerID != userID {
		community.JoinCode = nil
	}

	c.JSON(http.StatusOK, communityRow{
		Community:   community,
		MemberCount: count,
		IsMember:    membership > 0,
	})
}

// Join adds a user to a community, enforcing the join code and the member
// cap inside one transaction.
func (m *CommunityModule) Join(userID, communityID int, joinCode string) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		var community models.Community
		if err := tx.First(&community, communityID).Error; err != nil {
			return err
		}

		var membership int64
		if err := tx.Model(&models.CommunityMember{}).
			Where("community_id = ? AND user_id = ?", communityID, userID).
			Count(&membership).Error; err != nil {
			return err
		}
		if membership > 0 {
			return ErrAlreadyMember
		}

		if !community.IsPublic {
			if community.JoinCode == nil || joinCode != *community.JoinCode {
				return ErrWrongJoinCode
			}
		}

		var count int64
		if err := tx.Model(&models.CommunityMember{}).
			Where("community_id = ?", communityID).
			Count(&count).Error; err != nil {
			return err
		}
		if count >= MemberCap {
			return ErrCommunityFull
		}

		member := models.CommunityMember{
			CommunityID: communityID,
			UserID:      userID,
			CreatedAt:   time.Now(),
		}
		return tx.Create(&member).Error
	})
}

func (m *CommunityModule) join(c *gin.Context) {
	userID := c.GetInt("user_id")
	communityID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Identifiant invalide"})
		return
	}

	var request struct {
		JoinCode string `json:"join_code"`
	}
	// body is optional for public communities
	c.ShouldBindJSON(&request)

	err = m.Join(userID, communityID, request.JoinCode)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Communauté introuvable"})
	case errors.Is(err, ErrAlreadyMember):
		c.JSON(http.StatusConflict, gin.H{"error": "Vous êtes déjà membre de cette communauté"})
	case errors.Is(err, ErrWrongJoinCode):
		c.JSON(http.StatusForbidden, gin.H{"error": "Code d'accès incorrect"})
	case errors.Is(err, ErrCommunityFull):
		c.JSON(http.StatusForbidden, gin.H{"error": fmt.Sprintf("Cette communauté a atteint la limite de %d membres", MemberCap)})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Erreur lors de l'adhésion"})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// uniqueJoinCode draws 6-character codes until one is free.
func (m *CommunityModule) uniqueJoinCode(tx *gorm.DB) (string, error) {
	for i := 0; i < 10; i++ {
		code, err := randomCode(6)
		if err != nil {
			return "", err
		}

		var count int64
		if err := tx.Model(&models.Community{}).Where("join_code = ?", code).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", errors.New("could not generate a unique join code")
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
