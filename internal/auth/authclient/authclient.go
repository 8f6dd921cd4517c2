// Package authclient запрашивает пользователя у провайдера аутентификации.
package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/iurnickita/ifgmart/internal/model"
)

var ErrUnauthorized = errors.New("token rejected by auth provider")

// JSON ответ провайдера
type UserAnswer struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	AppMetadata struct {
		Role string `json:"role"`
	} `json:"app_metadata"`
}

type AuthClient interface {
	GetUser(ctx context.Context, accessToken string) (model.User, error)
}

type authClient struct {
	client *resty.Client
	apiKey string
}

func NewAuthClient(serviceAddr string, apiKey string) AuthClient {
	client := resty.New().SetBaseURL(strings.TrimRight(serviceAddr, "/"))
	return &authClient{client: client, apiKey: apiKey}
}

func (client *authClient) GetUser(ctx context.Context, accessToken string) (model.User, error) {
	path := "/auth/v1/user"

	setreq := client.client.R().SetContext(ctx)
	setreq.Method = http.MethodGet
	setreq.URL = path
	setreq.SetAuthToken(accessToken)
	if client.apiKey != "" {
		setreq.SetHeader("apikey", client.apiKey)
	}
	setresp, err := setreq.Send()
	if err != nil {
		return model.User{}, err
	}

	switch setresp.StatusCode() {
	case http.StatusOK:
		var userAnswer UserAnswer
		if err = json.Unmarshal(setresp.Body(), &userAnswer); err != nil {
			return model.User{}, err
		}
		if userAnswer.ID == "" {
			return model.User{}, ErrUnauthorized
		}
		return model.User{ID: userAnswer.ID, Email: userAnswer.Email, Role: userAnswer.AppMetadata.Role}, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.User{}, ErrUnauthorized
	default:
		return model.User{}, fmt.Errorf("auth request status: %d", setresp.StatusCode())
	}
}
