// Package main generates a local Certificate Authority and a server
// certificate for the key directory, writing them to files under the
// "certs" directory. An existing CA is reused, so regenerating the server
// certificate does not invalidate clients that already trust the CA.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/None-later/end-to-end/internal/certgen"
)

func main() {
	var (
		dir   string
		hosts string
	)
	flag.StringVar(&dir, "dir", "certs", "output directory")
	flag.StringVar(&hosts, "hosts", "localhost,127.0.0.1", "comma-separated hosts for the server certificate")
	flag.Parse()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatal(err)
	}

	caCertPath := dir + "/ca.crt"
	caKeyPath := dir + "/ca.key"

	caCert, caKey, err := certgen.LoadCACredentials(caCertPath, caKeyPath)
	if err != nil {
		// No usable CA yet, generate a fresh one.
		certPEM, keyPEM, genErr := certgen.GenerateCA("End-To-End CA")
		if genErr != nil {
			log.Fatal(genErr)
		}
		writePEM(caCertPath, certPEM, 0o644)
		writePEM(caKeyPath, keyPEM, 0o600)
		if caCert, caKey, err = certgen.LoadCACredentials(caCertPath, caKeyPath); err != nil {
			log.Fatal(err)
		}
		fmt.Println("generated new CA")
	}

	certPEM, keyPEM, err := certgen.GenerateServerCertificate(strings.Split(hosts, ","), caCert, caKey)
	if err != nil {
		log.Fatal(err)
	}
	writePEM(dir+"/server.crt", certPEM, 0o644)
	writePEM(dir+"/server.key", keyPEM, 0o600)

	fmt.Printf("certificates written to %s\n", dir)
}

func writePEM(path string, data []byte, mode os.FileMode) {
	if err := os.WriteFile(path, data, mode); err != nil {
		log.Fatal(err)
	}
}
