package keychain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	secretmanager "google.golang.org/api/secretmanager/v1"

	"github.com/noetl/noetl-sub007/internal/playbook"
	"github.com/noetl/noetl-sub007/internal/render"
)

// CredentialSource looks up an already-registered credential by reference,
// for the `credential` kind. The HTTP control plane's credential endpoint
// is the production implementation; tests substitute a fake.
type CredentialSource interface {
	Fetch(ctx context.Context, ref string) (credentialType string, data map[string]interface{}, err error)
}

// globalCredentialCatalogID is the (catalog_id=0, execution_id=nil)
// namespace standalone-registered credentials live in, shared by
// StoreCredentialSource and internal/httpapi's keychain-store endpoint.
const globalCredentialCatalogID = int64(0)

// storeCredentialSource implements CredentialSource against the same
// Store/Cipher pair a Resolver already resolves through, looking a `ref:`
// name up in the global registered-credential namespace.
type storeCredentialSource struct {
	store  *Store
	cipher *Cipher
}

// NewStoreCredentialSource builds the production CredentialSource: a `ref:`
// name in a playbook's keychain block names exactly what was registered via
// the control plane's credential-store endpoint.
func NewStoreCredentialSource(store *Store, cipher *Cipher) CredentialSource {
	return &storeCredentialSource{store: store, cipher: cipher}
}

func (s *storeCredentialSource) Fetch(ctx context.Context, ref string) (string, map[string]interface{}, error) {
	entry, err := s.store.Get(ctx, globalCredentialCatalogID, nil, ref)
	if err != nil {
		return "", nil, err
	}
	data, err := s.cipher.Open(ctx, entry.EncryptedData, entry.EncryptedDataKey)
	if err != nil {
		return "", nil, err
	}
	return entry.CredentialType, data, nil
}

// Resolver processes a playbook's keychain section at execution start,
// dispatching each entry by Kind, persisting the result through Store/Cipher,
// and returning the resolved name->payload map for immediate use as `{{
// keychain.<name> }}` template context.
type Resolver struct {
	store       *Store
	cache       *Cache
	cipher      *Cipher
	eval        *render.Evaluator
	httpClient  *http.Client
	credentials CredentialSource
}

func NewResolver(store *Store, cache *Cache, cipher *Cipher, eval *render.Evaluator, credentials CredentialSource) *Resolver {
	return &Resolver{
		store:       store,
		cache:       cache,
		cipher:      cipher,
		eval:        eval,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		credentials: credentials,
	}
}

// Resolve processes every entry in order, so later entries can reference
// earlier ones via `{{ keychain.<name> }}` in their own templates (matching
// the original processor's running keychain_data accumulator).
func (r *Resolver) Resolve(ctx context.Context, entries []playbook.KeychainEntry, catalogID int64, executionID *int64, workload map[string]interface{}) (map[string]interface{}, error) {
	resolved := map[string]interface{}{}

	for _, entry := range entries {
		templateCtx := map[string]interface{}{"workload": workload, "keychain": resolved}

		payload, credentialType, err := r.resolveOne(ctx, entry, templateCtx)
		if err != nil {
			return resolved, fmt.Errorf("keychain: resolve %q (%s): %w", entry.Name, entry.Kind, err)
		}
		if payload == nil {
			continue
		}

		expiresAt := r.expiresAt(entry, payload)
		if err := r.persist(ctx, entry, catalogID, executionID, credentialType, payload, expiresAt); err != nil {
			return resolved, err
		}

		resolved[entry.Name] = payload
	}

	return resolved, nil
}

func (r *Resolver) resolveOne(ctx context.Context, entry playbook.KeychainEntry, templateCtx map[string]interface{}) (map[string]interface{}, string, error) {
	switch Kind(entry.Kind) {
	case KindStatic:
		payload, err := r.resolveStatic(entry, templateCtx)
		return payload, string(KindStatic), err
	case KindBearer:
		payload, err := r.resolveBearer(entry, templateCtx)
		return payload, string(KindBearer), err
	case KindOAuth2:
		payload, err := r.resolveOAuth2(ctx, entry, templateCtx)
		return payload, "oauth2_client_credentials", err
	case KindSecretManager:
		payload, err := r.resolveSecretManager(ctx, entry, templateCtx)
		return payload, string(KindSecretManager), err
	case KindCredentialRef, "credential_ref":
		return r.resolveCredentialRef(ctx, entry, templateCtx)
	case KindGoogleServiceAccount, "google_oauth", "google":
		payload, err := r.resolveGoogleServiceAccount(ctx, entry, templateCtx)
		return payload, string(KindGoogleServiceAccount), err
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownKind, entry.Kind)
	}
}

func (r *Resolver) resolveStatic(entry playbook.KeychainEntry, ctx map[string]interface{}) (map[string]interface{}, error) {
	mapConfig, _ := entry.Fields["map"].(map[string]interface{})
	if len(mapConfig) == 0 {
		return nil, fmt.Errorf("%w: static requires 'map'", ErrMissingField)
	}
	return r.renderMap(mapConfig, ctx)
}

func (r *Resolver) resolveBearer(entry playbook.KeychainEntry, ctx map[string]interface{}) (map[string]interface{}, error) {
	token, _ := entry.Fields["token"].(string)
	if token == "" {
		return nil, fmt.Errorf("%w: bearer requires 'token'", ErrMissingField)
	}
	rendered, err := r.eval.RenderString(token, ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"access_token": rendered, "token_type": "Bearer"}, nil
}

// resolveOAuth2 runs the client-credentials grant against a rendered token
// endpoint, using the rendered `data` map's client_id/client_secret.
func (r *Resolver) resolveOAuth2(ctx context.Context, entry playbook.KeychainEntry, tctx map[string]interface{}) (map[string]interface{}, error) {
	endpoint, _ := entry.Fields["endpoint"].(string)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: oauth2 requires 'endpoint'", ErrMissingField)
	}
	tokenURL, err := r.eval.RenderString(endpoint, tctx)
	if err != nil {
		return nil, err
	}

	dataConfig, _ := entry.Fields["data"].(map[string]interface{})
	rendered, err := r.renderMap(dataConfig, tctx)
	if err != nil {
		return nil, err
	}

	clientID, _ := rendered["client_id"].(string)
	clientSecret, _ := rendered["client_secret"].(string)
	var scopes []string
	if scopeStr, ok := rendered["scope"].(string); ok && scopeStr != "" {
		scopes = []string{scopeStr}
	}

	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}

	token, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, r.httpClient))
	if err != nil {
		return nil, fmt.Errorf("oauth2 token request: %w", err)
	}

	payload := map[string]interface{}{
		"access_token": token.AccessToken,
		"token_type":   token.TokenType,
	}
	if !token.Expiry.IsZero() {
		payload["expires_in"] = int(time.Until(token.Expiry).Seconds())
	}
	return payload, nil
}

// resolveSecretManager fetches named secrets from GCP Secret Manager using
// service-account credentials obtained through an existing credential entry.
func (r *Resolver) resolveSecretManager(ctx context.Context, entry playbook.KeychainEntry, tctx map[string]interface{}) (map[string]interface{}, error) {
	authRef, _ := entry.Fields["auth"].(string)
	mapConfig, _ := entry.Fields["map"].(map[string]interface{})
	if authRef == "" || len(mapConfig) == 0 {
		return nil, fmt.Errorf("%w: secret_manager requires 'auth' and 'map'", ErrMissingField)
	}

	authName, err := r.eval.RenderString(authRef, tctx)
	if err != nil {
		return nil, err
	}
	if r.credentials == nil {
		return nil, fmt.Errorf("keychain: no credential source configured to resolve %q", authName)
	}

	credType, credData, err := r.credentials.Fetch(ctx, authName)
	if err != nil {
		return nil, fmt.Errorf("fetch auth credential %q: %w", authName, err)
	}

	tokenSource, err := googleTokenSource(ctx, credType, credData)
	if err != nil {
		return nil, err
	}

	svc, err := secretmanager.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("secretmanager client: %w", err)
	}

	result := map[string]interface{}{}
	for key, pathTemplate := range mapConfig {
		pathStr, _ := pathTemplate.(string)
		secretPath, err := r.eval.RenderString(pathStr, tctx)
		if err != nil {
			return nil, err
		}
		resp, err := svc.Projects.Secrets.Versions.Access(secretPath).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("access secret %q: %w", secretPath, err)
		}
		result[key] = resp.Payload.Data
	}
	return result, nil
}

// resolveCredentialRef fetches an already-registered credential and, for
// Google credential types, exchanges it for a fresh access token rather than
// caching the long-lived service-account key itself.
func (r *Resolver) resolveCredentialRef(ctx context.Context, entry playbook.KeychainEntry, tctx map[string]interface{}) (map[string]interface{}, string, error) {
	ref, _ := entry.Fields["ref"].(string)
	if ref == "" {
		ref, _ = entry.Fields["credential"].(string)
	}
	if ref == "" {
		return nil, "", fmt.Errorf("%w: credential requires 'ref' or 'credential'", ErrMissingField)
	}
	if r.credentials == nil {
		return nil, "", fmt.Errorf("keychain: no credential source configured")
	}

	refName, err := r.eval.RenderString(ref, tctx)
	if err != nil {
		return nil, "", err
	}

	credType, credData, err := r.credentials.Fetch(ctx, refName)
	if err != nil {
		return nil, "", fmt.Errorf("fetch credential %q: %w", refName, err)
	}

	switch credType {
	case "google_oauth", "google_service_account", "gcp":
		tokenSource, err := googleTokenSource(ctx, credType, credData)
		if err != nil {
			return nil, "", err
		}
		token, err := tokenSource.Token()
		if err != nil {
			return nil, "", fmt.Errorf("obtain google token: %w", err)
		}
		return map[string]interface{}{"access_token": token.AccessToken, "token_type": "Bearer"}, credType, nil
	default:
		return credData, credType, nil
	}
}

func (r *Resolver) resolveGoogleServiceAccount(ctx context.Context, entry playbook.KeychainEntry, tctx map[string]interface{}) (map[string]interface{}, error) {
	serviceAccountJSON, _ := entry.Fields["service_account"].(map[string]interface{})
	if serviceAccountJSON == nil {
		return nil, fmt.Errorf("%w: google_service_account requires 'service_account'", ErrMissingField)
	}
	tokenSource, err := googleTokenSource(ctx, "google_service_account", serviceAccountJSON)
	if err != nil {
		return nil, err
	}
	token, err := tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("obtain google token: %w", err)
	}
	return map[string]interface{}{"access_token": token.AccessToken, "token_type": "Bearer"}, nil
}

func googleTokenSource(ctx context.Context, credType string, credData map[string]interface{}) (oauth2.TokenSource, error) {
	raw, err := json.Marshal(credData)
	if err != nil {
		return nil, fmt.Errorf("keychain: marshal credential data: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, raw, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, fmt.Errorf("google credentials from json (%s): %w", credType, err)
	}
	return creds.TokenSource, nil
}

func (r *Resolver) renderMap(config map[string]interface{}, ctx map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(config))
	for key, v := range config {
		str, ok := v.(string)
		if !ok {
			out[key] = v
			continue
		}
		rendered, err := r.eval.RenderString(str, ctx)
		if err != nil {
			return nil, err
		}
		out[key] = rendered
	}
	return out, nil
}

func (r *Resolver) expiresAt(entry playbook.KeychainEntry, payload map[string]interface{}) time.Time {
	if ttl, ok := asSeconds(entry.Fields["ttl_seconds"]); ok {
		return time.Now().Add(time.Duration(ttl) * time.Second)
	}
	if expiresIn, ok := asSeconds(payload["expires_in"]); ok {
		return time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	scope, _ := entry.Fields["scope"].(string)
	return time.Now().Add(defaultTTL(scope))
}

func asSeconds(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func (r *Resolver) persist(ctx context.Context, entry playbook.KeychainEntry, catalogID int64, executionID *int64, credentialType string, payload map[string]interface{}, expiresAt time.Time) error {
	ciphertext, encryptedKey, err := r.cipher.Seal(ctx, payload)
	if err != nil {
		return err
	}

	scope, _ := entry.Fields["scope"].(string)
	if scope == "" {
		scope = ScopeGlobal
	}
	autoRenew, _ := entry.Fields["auto_renew"].(bool)

	row := &Entry{
		CatalogID:        catalogID,
		Name:             entry.Name,
		CredentialType:   credentialType,
		ScopeType:        scope,
		EncryptedData:    ciphertext,
		EncryptedDataKey: encryptedKey,
		ExpiresAt:        expiresAt,
		AutoRenew:        autoRenew,
	}
	if scope == ScopeLocal {
		row.ExecutionID = executionID
	}
	if autoRenew {
		if renewConfig, err := json.Marshal(entry); err == nil {
			row.RenewConfig = renewConfig
		}
	}

	if err := r.store.Put(ctx, row); err != nil {
		return err
	}
	return r.cache.Set(ctx, catalogID, row.ExecutionID, entry.Name, payload, expiresAt)
}

// Renew re-runs kind-dispatch resolution for a persisted entry whose
// RenewConfig carries the original playbook.KeychainEntry that produced
// it, then overwrites the same (catalog_id, execution_id, name) row with
// a fresh payload and expiry. internal/background's renewal sweep is the
// only caller; it has no template context of its own (renewal happens
// outside any single execution), so entries whose fields reference
// `{{ workload... }}` or `{{ keychain... }}` cannot be renewed this way —
// Renew returns the resolveOne error unchanged for those.
func (r *Resolver) Renew(ctx context.Context, stored Entry) error {
	if len(stored.RenewConfig) == 0 {
		return fmt.Errorf("keychain: entry %q has no renew config", stored.Name)
	}

	var entry playbook.KeychainEntry
	if err := json.Unmarshal(stored.RenewConfig, &entry); err != nil {
		return fmt.Errorf("keychain: decode renew config for %q: %w", stored.Name, err)
	}

	payload, credentialType, err := r.resolveOne(ctx, entry, map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("keychain: renew %q: %w", stored.Name, err)
	}

	return r.persist(ctx, entry, stored.CatalogID, stored.ExecutionID, credentialType, payload, r.expiresAt(entry, payload))
}
