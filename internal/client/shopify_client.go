// Package client talks to the external customer directory that owns identifier uniqueness.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tzomaik-art/form-builder/internal/model"
)

// DefaultAPIVersion is the Admin API version used when none is configured
const DefaultAPIVersion = "2024-01"

// Customer is the directory entity written for a submission
type Customer struct {
	Email      string
	FirstName  string
	LastName   string
	Phone      string
	SocialName string
	BestellID  string
	Tags       []string
}

// UserError carries the directory's own field-level validation messages
type UserError struct {
	Messages []string
}

func (e *UserError) Error() string {
	return "directory rejected customer: " + strings.Join(e.Messages, "; ")
}

// AsUserError extracts a UserError from an error chain
func AsUserError(err error) (*UserError, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// ShopifyDirectory speaks the Shopify Admin GraphQL API for a single shop
type ShopifyDirectory struct {
	endpoint    string
	accessToken string
	client      *http.Client
	logger      *zap.Logger
}

// ShopifyOptions configures directories built by ShopifyFactory
type ShopifyOptions struct {
	APIVersion string
	// BaseURL overrides https://{shop}; used for tests and proxies
	BaseURL    string
	HTTPClient *http.Client
}

// ShopifyFactory builds per-tenant directories sharing one HTTP client
type ShopifyFactory struct {
	opts   ShopifyOptions
	logger *zap.Logger
}

// NewShopifyFactory creates a new factory
func NewShopifyFactory(opts ShopifyOptions, logger *zap.Logger) *ShopifyFactory {
	if opts.APIVersion == "" {
		opts.APIVersion = DefaultAPIVersion
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &ShopifyFactory{opts: opts, logger: logger}
}

// ForTenant returns the tenant's directory, or nil when the tenant has none configured
func (f *ShopifyFactory) ForTenant(tenant *model.Tenant) *ShopifyDirectory {
	if tenant == nil || !tenant.HasExternalAuthority() {
		return nil
	}
	base := f.opts.BaseURL
	if base == "" {
		base = "https://" + tenant.Shop
	}
	return &ShopifyDirectory{
		endpoint:    fmt.Sprintf("%s/admin/api/%s/graphql.json", strings.TrimRight(base, "/"), f.opts.APIVersion),
		accessToken: tenant.AccessToken,
		client:      f.opts.HTTPClient,
		logger:      f.logger.With(zap.String("shop", tenant.Shop)),
	}
}

const searchCustomersQuery = `query searchCustomers($query: String!) {
  customers(first: 1, query: $query) {
    edges { node { id } }
  }
}`

const customerCreateMutation = `mutation customerCreate($input: CustomerInput!) {
  customerCreate(input: $input) {
    customer { id }
    userErrors { field message }
  }
}`

const customerUpdateMutation = `mutation customerUpdate($input: CustomerInput!) {
  customerUpdate(input: $input) {
    customer { id }
    userErrors { field message }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

type customerEdges struct {
	Customers struct {
		Edges []struct {
			Node struct {
				ID string `json:"id"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"customers"`
}

type mutationPayload struct {
	Customer *struct {
		ID string `json:"id"`
	} `json:"customer"`
	UserErrors []struct {
		Field   []string `json:"field"`
		Message string   `json:"message"`
	} `json:"userErrors"`
}

// Exists reports whether a customer is already tagged with the identifier
func (d *ShopifyDirectory) Exists(ctx context.Context, bestellID string) (bool, error) {
	var data customerEdges
	query := fmt.Sprintf("tag:%s OR metafield:custom.bestellnummer_id:%s", bestellID, bestellID)
	if err := d.do(ctx, searchCustomersQuery, map[string]any{"query": query}, &data); err != nil {
		return false, fmt.Errorf("search customers: %w", err)
	}
	return len(data.Customers.Edges) > 0, nil
}

// Upsert creates the customer or updates the one already registered with the
// email, attaching the identifier and display name as tags and metafields.
// It returns the directory's customer ID.
func (d *ShopifyDirectory) Upsert(ctx context.Context, customer Customer) (string, error) {
	existingID, err := d.findByEmail(ctx, customer.Email)
	if err != nil {
		return "", err
	}

	input := customerInput(customer)
	mutation, field := customerCreateMutation, "customerCreate"
	if existingID != "" {
		input["id"] = existingID
		mutation, field = customerUpdateMutation, "customerUpdate"
	} else {
		input["email"] = customer.Email
	}

	var data map[string]mutationPayload
	if err := d.do(ctx, mutation, map[string]any{"input": input}, &data); err != nil {
		return "", fmt.Errorf("%s: %w", field, err)
	}

	payload := data[field]
	if len(payload.UserErrors) > 0 {
		messages := make([]string, 0, len(payload.UserErrors))
		for _, ue := range payload.UserErrors {
			messages = append(messages, ue.Message)
		}
		return "", &UserError{Messages: messages}
	}

	if existingID != "" {
		d.logger.Debug("Updated directory customer", zap.String("customer_id", existingID))
		return existingID, nil
	}
	if payload.Customer == nil || payload.Customer.ID == "" {
		return "", fmt.Errorf("%s: response carried no customer", field)
	}
	d.logger.Debug("Created directory customer", zap.String("customer_id", payload.Customer.ID))
	return payload.Customer.ID, nil
}

func (d *ShopifyDirectory) findByEmail(ctx context.Context, email string) (string, error) {
	var data customerEdges
	if err := d.do(ctx, searchCustomersQuery, map[string]any{"query": "email:" + email}, &data); err != nil {
		return "", fmt.Errorf("find customer by email: %w", err)
	}
	if len(data.Customers.Edges) == 0 {
		return "", nil
	}
	return data.Customers.Edges[0].Node.ID, nil
}

func customerInput(c Customer) map[string]any {
	tags := append([]string{c.SocialName, c.BestellID}, c.Tags...)
	input := map[string]any{
		"tags": tags,
		"metafields": []map[string]string{
			{"namespace": "custom", "key": "social_name", "type": "single_line_text_field", "value": c.SocialName},
			{"namespace": "custom", "key": "bestellnummer_id", "type": "single_line_text_field", "value": c.BestellID},
		},
	}
	if c.FirstName != "" {
		input["firstName"] = c.FirstName
	}
	if c.LastName != "" {
		input["lastName"] = c.LastName
	}
	if c.Phone != "" {
		input["phone"] = c.Phone
	}
	return input
}

// do posts a GraphQL operation and decodes its data into out
func (d *ShopifyDirectory) do(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", d.accessToken)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("directory returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var envelope graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			messages = append(messages, e.Message)
		}
		return fmt.Errorf("graphql: %s", strings.Join(messages, "; "))
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
