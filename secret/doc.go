// Package secret resolves secret references in configuration values.
//
// Values are first expanded against the environment (ExpandEnvStrict), then
// any "secretref:<provider>:<ref>" reference is replaced by the value the
// named Provider returns:
//
//	MARKETCACHE_DYNAMO_TABLE=secretref:env:TABLE_NAME
//	MARKETCACHE_TOKEN_SIGNING_KEY=secretref:file:signing.key
//
// EnvProvider reads environment variables and FileProvider reads files below
// a base directory.
package secret
