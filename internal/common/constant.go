package common

// AccessTokenHeaderName is the HTTP header used to carry the escrow access
// token on outbound requests.
const AccessTokenHeaderName = "Authorization"

// AccessTokenScheme prefixes the token value in AccessTokenHeaderName.
const AccessTokenScheme = "Bearer"
