// Package main is the entry point for Xancrypt.
//
//	@title						Xancrypt API
//	@version					1.0
//	@description				CSS minification and JS obfuscation with a per-identity rolling quota.
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token identifying a signed-in user (format: "Bearer {jwt}")
//
//	@securityDefinitions.apikey	AdminToken
//	@in							header
//	@name						X-Admin-Token
//	@description				Operator token checked against admin.token_hash
package main

func main() {
	Execute()
}
