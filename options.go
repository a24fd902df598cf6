package uaclient

import (
	"log/slog"
	"time"
)

// Config is the client configuration. It is normally assembled through
// the functional options accepted by NewClient.
type Config struct {
	// LocalConnectionConfig carries the transport parameters announced
	// in the HEL message.
	LocalConnectionConfig ConnectionConfig

	// SecurityPolicies is the ordered list of security policies the
	// client can operate. Lookup is by URI equality.
	SecurityPolicies []*SecurityPolicy

	// SecurityMode restricts endpoint selection. Invalid (zero) accepts
	// any valid mode.
	SecurityMode MessageSecurityMode

	// SecurityPolicyURI restricts endpoint selection. Empty accepts any
	// available policy.
	SecurityPolicyURI string

	// UserIdentityToken is the identity presented at session
	// activation. Nil activates anonymously.
	UserIdentityToken UserIdentityToken

	// Endpoint and UserTokenPolicy preselect the server endpoint. When
	// both are nil, endpoint discovery runs during connect.
	Endpoint        *EndpointDescription
	UserTokenPolicy *UserTokenPolicy

	// SecureChannelLifetime is the requested security token lifetime.
	SecureChannelLifetime time.Duration

	// Timeout is the per-step deadline: HEL/ACK, OPN, session
	// activation and synchronous services each get a fresh budget.
	Timeout time.Duration

	// ClientDescription identifies this application to the server. Its
	// ApplicationURI must match the URI embedded in each configured
	// security policy certificate; a mismatch logs a warning.
	ClientDescription ApplicationDescription

	SessionName    string
	SessionTimeout time.Duration

	// StateCallback is invoked whenever the client state changes. It
	// must not mutate the state synchronously.
	StateCallback func(c *Client, state ClientState)

	// ConnectionFunc opens the transport connection. Defaults to plain
	// TCP.
	ConnectionFunc ConnectionFunc

	Logger *slog.Logger
}

// Option is a functional option for configuring the client.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		LocalConnectionConfig: ConnectionConfig{
			ProtocolVersion: ProtocolVersion,
			RecvBufferSize:  65535,
			SendBufferSize:  65535,
			MaxMessageSize:  0,
			MaxChunkCount:   0,
		},
		SecurityPolicies:      []*SecurityPolicy{NewSecurityPolicyNone()},
		SecureChannelLifetime: DefaultSecureChannelLifetime,
		Timeout:               DefaultTimeout,
		ClientDescription: ApplicationDescription{
			ApplicationURI:  "urn:edgeo:uaclient",
			ProductURI:      "urn:edgeo:uaclient",
			ApplicationName: LocalizedText{Text: "Edgeo OPC UA Client"},
			ApplicationType: ApplicationTypeClient,
		},
		SessionName:    "Edgeo OPC UA Client Session",
		SessionTimeout: time.Hour,
		ConnectionFunc: defaultConnectionFunc,
		Logger:         slog.Default(),
	}
}

// WithTimeout sets the per-step deadline for connect operations.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithLocalConnectionConfig sets the transport parameters announced in
// the HEL message.
func WithLocalConnectionConfig(cfg ConnectionConfig) Option {
	return func(c *Config) {
		c.LocalConnectionConfig = cfg
	}
}

// WithSecurityPolicies sets the ordered list of operable security
// policies.
func WithSecurityPolicies(policies ...*SecurityPolicy) Option {
	return func(c *Config) {
		c.SecurityPolicies = policies
	}
}

// WithSecurityMode restricts endpoint selection to a security mode.
func WithSecurityMode(mode MessageSecurityMode) Option {
	return func(c *Config) {
		c.SecurityMode = mode
	}
}

// WithSecurityPolicyURI restricts endpoint selection to a security
// policy URI.
func WithSecurityPolicyURI(uri string) Option {
	return func(c *Config) {
		c.SecurityPolicyURI = uri
	}
}

// WithEndpoint preselects the server endpoint and user token policy,
// skipping discovery.
func WithEndpoint(endpoint *EndpointDescription, tokenPolicy *UserTokenPolicy) Option {
	return func(c *Config) {
		c.Endpoint = endpoint
		c.UserTokenPolicy = tokenPolicy
	}
}

// WithAnonymousAuth configures anonymous session activation.
func WithAnonymousAuth() Option {
	return func(c *Config) {
		c.UserIdentityToken = &AnonymousIdentityToken{}
	}
}

// WithUserNameAuth configures username/password session activation.
func WithUserNameAuth(username, password string) Option {
	return func(c *Config) {
		c.UserIdentityToken = &UserNameIdentityToken{
			UserName: username,
			Password: []byte(password),
		}
	}
}

// WithCertificateAuth configures X.509 certificate session activation.
func WithCertificateAuth(cert []byte) Option {
	return func(c *Config) {
		c.UserIdentityToken = &X509IdentityToken{CertificateData: cert}
	}
}

// WithUserIdentityToken sets the identity token directly.
func WithUserIdentityToken(token UserIdentityToken) Option {
	return func(c *Config) {
		c.UserIdentityToken = token
	}
}

// WithSecureChannelLifetime sets the requested security token lifetime.
func WithSecureChannelLifetime(d time.Duration) Option {
	return func(c *Config) {
		c.SecureChannelLifetime = d
	}
}

// WithSessionName sets the session name.
func WithSessionName(name string) Option {
	return func(c *Config) {
		c.SessionName = name
	}
}

// WithSessionTimeout sets the requested session timeout.
func WithSessionTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.SessionTimeout = d
	}
}

// WithApplicationURI sets the application URI of the client
// description.
func WithApplicationURI(uri string) Option {
	return func(c *Config) {
		c.ClientDescription.ApplicationURI = uri
	}
}

// WithApplicationName sets the application name of the client
// description.
func WithApplicationName(name string) Option {
	return func(c *Config) {
		c.ClientDescription.ApplicationName = LocalizedText{Text: name}
	}
}

// WithProductURI sets the product URI of the client description.
func WithProductURI(uri string) Option {
	return func(c *Config) {
		c.ClientDescription.ProductURI = uri
	}
}

// WithStateCallback sets the state change observer.
func WithStateCallback(fn func(c *Client, state ClientState)) Option {
	return func(c *Config) {
		c.StateCallback = fn
	}
}

// WithConnectionFunc sets the transport connection factory.
func WithConnectionFunc(fn ConnectionFunc) Option {
	return func(c *Config) {
		c.ConnectionFunc = fn
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
