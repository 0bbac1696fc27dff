// Package identity 通过 Privy 查询用户档案，把会话里的 privy 用户 ID
// 解析为链上钱包地址。
package identity

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"SonicOnboard/internal/errors"
	"SonicOnboard/internal/httpx"
)

const defaultPrivyBaseURL = "https://auth.privy.io/api/v1"

// UserProfile 是解析后的用户档案。
type UserProfile struct {
	ID                  string
	EVMWalletAddress    string
	SolanaWalletAddress string
}

// PrivyClient 访问 Privy 用户接口。
type PrivyClient struct {
	baseURL   string
	appID     string
	appSecret string
	http      *httpx.Client
}

// NewPrivyClient 创建客户端。baseURL 为空时使用生产地址。
func NewPrivyClient(appID, appSecret, baseURL string, http *httpx.Client) *PrivyClient {
	if http == nil {
		http = httpx.New()
	}
	if baseURL == "" {
		baseURL = defaultPrivyBaseURL
	}
	return &PrivyClient{baseURL: baseURL, appID: appID, appSecret: appSecret, http: http}
}

type linkedAccount struct {
	Type          string `json:"type"`
	ConnectorType string `json:"connector_type"`
	ChainType     string `json:"chain_type"`
	Address       string `json:"address"`
}

type userDetails struct {
	LinkedAccounts []linkedAccount `json:"linked_accounts"`
}

// UserProfile 查询用户档案并提取内嵌钱包地址。
func (c *PrivyClient) UserProfile(ctx context.Context, privyUserID string) (*UserProfile, error) {
	did, err := didFromUserID(privyUserID)
	if err != nil {
		return nil, err
	}

	auth := base64.StdEncoding.EncodeToString([]byte(c.appID + ":" + c.appSecret))
	headers := map[string]string{
		"Authorization": "Basic " + auth,
		"privy-app-id":  c.appID,
	}

	var details userDetails
	url := fmt.Sprintf("%s/users/%s", c.baseURL, did)
	if err := c.http.GetJSON(ctx, url, headers, &details); err != nil {
		return nil, errors.Wrap(errors.CodeUnknown, err, "查询 Privy 用户失败")
	}

	profile := &UserProfile{ID: privyUserID}
	for _, account := range details.LinkedAccounts {
		if account.Type != "wallet" || account.ConnectorType != "embedded" {
			continue
		}
		if account.ChainType == "solana" {
			profile.SolanaWalletAddress = account.Address
		} else {
			profile.EVMWalletAddress = account.Address
		}
	}
	return profile, nil
}

// didFromUserID 从 "did:privy:XXXX" 形式的用户 ID 中取出 DID 部分。
func didFromUserID(userID string) (string, error) {
	parts := strings.SplitN(userID, "did:privy:", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", errors.New(errors.CodeInvalidArgument, fmt.Sprintf("无效的 privy 用户 ID: %q", userID))
	}
	return parts[1], nil
}
