package api

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"gorm.io/gorm"

	"cloud-inspection-service/internal/store"
	"cloud-inspection-service/internal/vault"
)

// CredentialHandler manages tenant credentials. Secret fields are encrypted
// through the vault adapter before they touch the store and are never echoed
// back in responses.
type CredentialHandler struct {
	DB    *gorm.DB
	Vault *vault.Adapter
}

func NewCredentialHandler(db *gorm.DB, v *vault.Adapter) *CredentialHandler {
	return &CredentialHandler{DB: db, Vault: v}
}

type CreateCredentialRequest struct {
	Name            string `json:"name" validate:"required"`
	AccessKeyID     string `json:"access_key_id" validate:"required"`
	SecretAccessKey string `json:"secret_access_key" validate:"required"`
	SessionToken    string `json:"session_token"`
	Region          string `json:"region"`
	IsDefault       bool   `json:"is_default"`
}

func (h *CredentialHandler) CreateCredential(ctx context.Context, c *app.RequestContext) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var req CreateCredentialRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "invalid request payload: " + err.Error()})
		return
	}

	cred := store.Credential{
		TenantID:  tenant,
		Name:      req.Name,
		Region:    req.Region,
		IsDefault: req.IsDefault,
	}
	var err error
	if cred.AccessKeyID, err = h.Vault.Encrypt(req.AccessKeyID); err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "encrypting credential: " + err.Error()})
		return
	}
	if cred.SecretAccessKey, err = h.Vault.Encrypt(req.SecretAccessKey); err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "encrypting credential: " + err.Error()})
		return
	}
	if cred.SessionToken, err = h.Vault.Encrypt(req.SessionToken); err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "encrypting credential: " + err.Error()})
		return
	}

	// At most one default per tenant: flipping the flag on demotes the rest.
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if cred.IsDefault {
			if err := tx.Model(&store.Credential{}).
				Where("tenant_id = ? AND is_default = ?", tenant, true).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(&cred).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "failed to create credential: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, cred)
}

func (h *CredentialHandler) GetCredentials(ctx context.Context, c *app.RequestContext) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var creds []store.Credential
	if err := h.DB.Where("tenant_id = ?", tenant).Find(&creds).Error; err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, creds)
}

// DeleteCredential rejects deletion while any task definition still
// references the credential. A running task's binding is never silently
// nulled; the tenant must reassign or delete the tasks first.
func (h *CredentialHandler) DeleteCredential(ctx context.Context, c *app.RequestContext) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	referenced, err := store.CredentialReferenced(h.DB, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	if referenced {
		c.JSON(http.StatusConflict, utils.H{"error": "credential is still referenced by one or more tasks"})
		return
	}
	res := h.DB.Where("id = ? AND tenant_id = ?", id, tenant).Delete(&store.Credential{})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": res.Error.Error()})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, utils.H{"error": "credential not found"})
		return
	}
	c.JSON(http.StatusOK, utils.H{"message": "credential deleted"})
}
