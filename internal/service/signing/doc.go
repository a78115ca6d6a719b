// Package signing produces the author and distributor signature artifacts
// of the container workspace.
//
// Two signers are provided: CommandSigner delegates to an external tool,
// ProfileSigner signs in-process from a signing profile (profiles.xml)
// that references PKCS#12 key stores.
package signing
