// SPDX-License-Identifier: MPL-2.0

package flow

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/nextidentity/rp/account"
	"github.com/nextidentity/rp/oidc"
)

const (
	// QueryParam selects the action on the site URL, e.g. ?auth=login.
	QueryParam = "auth"

	// LoginErrorParam carries the failure code to the login surface.
	LoginErrorParam = "login_error"

	// RedirectToParam is the optional post-login destination.
	RedirectToParam = "redirect_to"

	// DefaultLoginPath is the login surface relative to the site URL.
	DefaultLoginPath = "login"
)

// Action is a value of QueryParam.
type Action string

const (
	ActionLogin       Action = "login"
	ActionRegister    Action = "register"
	ActionEditProfile Action = "edit_profile"
	ActionCallback    Action = "callback"
	ActionLogout      Action = "logout"
)

// Config for the flow controller.
type Config struct {
	// Provider is the relying party's provider config.  A nil or partial
	// Provider leaves the flows disabled; see oidc.Config.IsConfigured.
	Provider *oidc.Config

	// Resolution controls account provisioning.
	Resolution account.ResolutionConfig

	// SiteURL is the site's base URL, which is also the home location.
	SiteURL string

	// LoginURL is the login surface failures are sent to.  Defaults to
	// SiteURL + DefaultLoginPath.
	LoginURL string

	// LoginRedirect is where a successful login lands when the flow has no
	// redirect_to.  Defaults to SiteURL.
	LoginRedirect string

	// LogoutRedirect is where logout lands and the provider's
	// post_logout_redirect_uri.  Defaults to SiteURL.
	LogoutRedirect string
}

// Validate the config.  Every problem found is reported.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("flow config is nil: %w", ErrNilParameter)
	}
	var result *multierror.Error
	if _, err := absoluteURL(c.SiteURL); err != nil {
		result = multierror.Append(result, fmt.Errorf("site URL: %w", err))
	}
	for name, v := range map[string]string{
		"login URL":       c.LoginURL,
		"login redirect":  c.LoginRedirect,
		"logout redirect": c.LogoutRedirect,
	} {
		if v == "" {
			continue
		}
		if _, err := absoluteURL(v); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}

func (c *Config) home() string {
	return c.SiteURL
}

func (c *Config) loginURL() string {
	if c.LoginURL != "" {
		return c.LoginURL
	}
	u, err := url.Parse(c.SiteURL)
	if err != nil {
		return c.SiteURL
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.Path += DefaultLoginPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func (c *Config) loginRedirect() string {
	if c.LoginRedirect != "" {
		return c.LoginRedirect
	}
	return c.home()
}

func (c *Config) logoutRedirect() string {
	if c.LogoutRedirect != "" {
		return c.LogoutRedirect
	}
	return c.home()
}

// actionURL is the site URL with ?auth=action.
func (c *Config) actionURL(a Action) string {
	u, err := url.Parse(c.SiteURL)
	if err != nil {
		return c.SiteURL
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawQuery = url.Values{QueryParam: {string(a)}}.Encode()
	u.Fragment = ""
	return u.String()
}

// safeRedirect returns raw when it's a same-site destination: a path
// starting with a single "/" or an absolute URL on the site's host.
// Anything else is dropped.
func (c *Config) safeRedirect(raw string) *string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.ContainsAny(raw, "\r\n\\") {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	if u.Scheme == "" && u.Host == "" {
		if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
			return nil
		}
		site, err := url.Parse(c.SiteURL)
		if err != nil {
			return nil
		}
		resolved := site.ResolveReference(u).String()
		return &resolved
	}
	site, err := url.Parse(c.SiteURL)
	if err != nil {
		return nil
	}
	if (u.Scheme != "https" && u.Scheme != "http") || !strings.EqualFold(u.Host, site.Host) {
		return nil
	}
	return &raw
}

func absoluteURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty: %w", ErrInvalidParameter)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%q is invalid: %w", raw, ErrInvalidParameter)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute http(s) URL: %w", raw, ErrInvalidParameter)
	}
	return u, nil
}

// withQuery returns base with key=value added to its query.
func withQuery(base, key, value string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
