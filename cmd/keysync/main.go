// Package main implements keysync, the command-line client for the local
// keyring and its remote key directory.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/None-later/end-to-end/internal/directory"
	"github.com/None-later/end-to-end/internal/keyring"
	"github.com/None-later/end-to-end/internal/keystore"
	"github.com/None-later/end-to-end/internal/models"
	"github.com/None-later/end-to-end/internal/pgp"
	"go.uber.org/zap"
)

var (
	version   string
	buildDate string
)

// main parses command-line flags and dispatches to the one-shot commands.
func main() {
	var (
		cmd           string
		baseURL       string
		caFile        string
		storePath     string
		identityStr   string
		keyType       string
		keyID         string
		file          string
		requireRemote bool
		wantSecret    bool
		showVer       bool
	)

	flag.StringVar(&cmd, "cmd", "", "command: search | resolve | status | upload | import | restore")
	flag.StringVar(&baseURL, "url", "", "key directory base URL (empty for local-only)")
	flag.StringVar(&caFile, "ca", "", "path to CA cert the directory serves behind")
	flag.StringVar(&storePath, "store", "keyring.json", "path to the local keyring file")
	flag.StringVar(&identityStr, "identity", "", `identity to operate on (email or "Name <email>")`)
	flag.StringVar(&keyType, "type", "public", "key type for search: public | private")
	flag.StringVar(&keyID, "id", "", "16-digit hex key ID for resolve")
	flag.StringVar(&file, "file", "", `armored key file for import/restore ("-" for stdin)`)
	flag.BoolVar(&requireRemote, "require-remote", false, "fail search when the directory is unreachable")
	flag.BoolVar(&wantSecret, "secret", false, "resolve secret key material")
	flag.BoolVar(&showVer, "version", false, "show build version and date")
	flag.Parse()

	if showVer {
		fmt.Printf("keysync\nVersion: %s\nBuild Date: %s\n", version, buildDate)
		return
	}

	zlog, _ := zap.NewDevelopment()
	defer func() {
		if zlog != nil {
			_ = zlog.Sync()
		}
	}()

	store := keystore.New(storePath)
	if err := store.Load(); err != nil {
		log.Fatal(err)
	}

	kr := keyring.New(store, remoteProvider(baseURL, caFile, zlog), zlog)
	ctx := context.Background()

	switch cmd {
	case "search":
		if identityStr == "" {
			log.Fatal("please provide -identity")
		}
		typ := models.KeyTypePublic
		if keyType == "private" {
			typ = models.KeyTypePrivate
		}
		keys, err := kr.SearchByIdentity(ctx, identityStr, typ, requireRemote)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(keys)
	case "resolve":
		if keyID == "" {
			log.Fatal("please provide -id")
		}
		id, err := pgp.ParseKeyID(keyID)
		if err != nil {
			log.Fatal(err)
		}
		block, err := kr.ResolveKeyBlockByID(ctx, id, wantSecret)
		if err != nil {
			log.Fatal(err)
		}
		if block == nil {
			log.Fatalf("no key found for ID %s", pgp.FormatKeyID(id))
		}
		armored, err := block.Armor()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(string(armored))
	case "status":
		if identityStr == "" {
			log.Fatal("please provide -identity")
		}
		report, err := kr.CompareWithRemote(ctx, identityStr)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(report)
	case "upload":
		if identityStr == "" {
			log.Fatal("please provide -identity")
		}
		uploaded, err := kr.UploadKeys(ctx, identityStr)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(map[string]bool{"uploaded": uploaded})
	case "import":
		keys, err := kr.ImportKey(ctx, readInput(file))
		if err != nil {
			log.Fatal(err)
		}
		printJSON(keys)
	case "restore":
		if identityStr == "" {
			log.Fatal("please provide -identity")
		}
		if err := kr.RestoreKeyring(ctx, readInput(file), identityStr); err != nil {
			log.Fatal(err)
		}
		fmt.Println("keyring restored")
	default:
		log.Fatalf("unknown command: %s", cmd)
	}
}

// remoteProvider builds the directory client, or returns nil for
// local-only operation.
func remoteProvider(baseURL, caFile string, zlog *zap.Logger) keyring.RemoteProvider {
	if baseURL == "" {
		return nil
	}
	var client *http.Client
	if caFile != "" {
		var err error
		client, err = directory.NewTLSClient(caFile)
		if err != nil {
			log.Fatal(err)
		}
	}
	return directory.New(baseURL, client, zlog)
}

// readInput reads the armored input from a file, or from stdin when
// path is "-" or empty.
func readInput(path string) []byte {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatal(err)
		}
		return data
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal(err)
	}
	return data
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(b))
}
