package common

// AppName is used as the certificate common name and as the TOTP issuer.
const AppName = "chatrelay"

// AdminSponsor is the fixed sponsor identity of the bootstrap invite token.
// The name is reserved and can never be registered.
const AdminSponsor = "admin"
