// Copyright (c) 2019-present The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package common

import (
	"crypto/x509"
	"testing"
)

func TestGenerateCerts(t *testing.T) {
	cert, err := GenerateCerts("localhost", "127.0.0.1")
	if err != nil {
		t.Fatal("GenerateCerts failed:", err)
	}
	if len(cert.Certificate) != 1 {
		t.Fatal("expected a single certificate, got", len(cert.Certificate))
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatal("cannot parse certificate:", err)
	}
	if err := leaf.VerifyHostname("localhost"); err != nil {
		t.Fatal("localhost not covered:", err)
	}
	if err := leaf.VerifyHostname("127.0.0.1"); err != nil {
		t.Fatal("127.0.0.1 not covered:", err)
	}
	if !leaf.NotAfter.After(leaf.NotBefore) {
		t.Fatal("certificate validity is empty")
	}
}
