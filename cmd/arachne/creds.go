package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/scbe-labs/arachne/internal/config"
	"github.com/scbe-labs/arachne/internal/store"
	"github.com/scbe-labs/arachne/internal/vault"
)

func runCreds(args []string) error {
	if len(args) == 0 {
		printCredsUsage()
		return nil
	}

	passphrase := os.Getenv("ARACHNE_VAULT_PASSPHRASE")
	if passphrase == "" {
		return fmt.Errorf("ARACHNE_VAULT_PASSPHRASE environment variable is required")
	}

	v, err := vault.New(passphrase)
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	switch args[0] {
	case "list":
		return credsList(db)
	case "set":
		return credsSet(db, v, args[1:])
	case "get":
		return credsGet(db, v, args[1:])
	case "delete":
		return credsDelete(db, args[1:])
	default:
		printCredsUsage()
		return fmt.Errorf("unknown creds command: %s", args[0])
	}
}

func printCredsUsage() {
	fmt.Fprintf(os.Stderr, `Usage: arachne creds <command>

Commands:
  list                                             List credentials (metadata only)
  set <name> --value <str> [--description <text>]  Store a credential
  get <name>                                       Retrieve and decrypt a credential
  delete <name>                                    Delete a credential

Store credentials under the crawl site's domain (e.g. forum.example.org)
so workers can look them up when a fetch needs a login.

Environment:
  ARACHNE_VAULT_PASSPHRASE                         Required. Encryption passphrase.
`)
}

func credsList(db *store.Store) error {
	creds, err := db.ListCredentials()
	if err != nil {
		return err
	}
	if len(creds) == 0 {
		fmt.Println("No credentials stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION\tUPDATED")
	for _, c := range creds {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, c.Description, c.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func credsSet(db *store.Store, v *vault.Vault, args []string) error {
	if len(args) < 3 || args[1] != "--value" {
		return fmt.Errorf("usage: arachne creds set <name> --value <string> [--description <text>]")
	}

	name := args[0]
	value := args[2]

	description := ""
	for i := 3; i < len(args)-1; i++ {
		if args[i] == "--description" {
			description = args[i+1]
			break
		}
	}

	ciphertext, nonce, err := v.EncryptString(value)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}

	cred := &store.Credential{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Value:       ciphertext,
		Nonce:       nonce,
	}

	// Setting an existing name updates it in place.
	existing, _ := db.GetCredentialByName(name)
	if existing != nil {
		cred.ID = existing.ID
	}

	if err := db.SaveCredential(cred); err != nil {
		return err
	}
	fmt.Printf("Credential %q saved\n", name)
	return nil
}

func credsGet(db *store.Store, v *vault.Vault, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: arachne creds get <name>")
	}

	cred, err := db.GetCredentialByName(args[0])
	if err != nil {
		return err
	}
	if cred == nil {
		return fmt.Errorf("credential %q not found", args[0])
	}

	plaintext, err := v.DecryptString(cred.Value, cred.Nonce)
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}

	fmt.Print(plaintext)
	if len(plaintext) > 0 && plaintext[len(plaintext)-1] != '\n' {
		fmt.Println()
	}
	return nil
}

func credsDelete(db *store.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: arachne creds delete <name>")
	}

	cred, err := db.GetCredentialByName(args[0])
	if err != nil {
		return err
	}
	if cred == nil {
		return fmt.Errorf("credential %q not found", args[0])
	}

	if err := db.DeleteCredential(cred.ID); err != nil {
		return err
	}
	fmt.Printf("Credential %q deleted\n", args[0])
	return nil
}
