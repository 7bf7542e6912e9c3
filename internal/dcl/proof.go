package dcl

import (
	"archive/zip"
	"encoding/json"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/governedworks/wbs/internal/types"
)

// ExportProofBundle writes a self-verifying zip for one packet: its commit
// sequence, HEAD, and the constitution document. An auditor with the
// canonical JSON rules can re-verify the chain from the archive alone.
func (l *Ledger) ExportProofBundle(packetID, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return types.WrapError(types.ErrIO, err, "creating output directory for %s", outPath)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return types.WrapError(types.ErrIO, err, "creating proof bundle %s", outPath)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	paths, err := l.commitFiles(packetID)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := addFileToZip(zw, p, "commits/"+filepath.Base(p)); err != nil {
			return err
		}
	}
	if _, statErr := os.Stat(l.headPath(packetID)); statErr == nil {
		if err := addFileToZip(zw, l.headPath(packetID), "HEAD"); err != nil {
			return err
		}
	}
	if l.ConstitutionPath != "" {
		if _, statErr := os.Stat(l.ConstitutionPath); statErr == nil {
			if err := addFileToZip(zw, l.ConstitutionPath, "constitution.md"); err != nil {
				return err
			}
		}
	}
	if err := zw.Close(); err != nil {
		return types.WrapError(types.ErrIO, err, "finalizing proof bundle %s", outPath)
	}
	return nil
}

func addFileToZip(zw *zip.Writer, src, name string) error {
	in, err := os.Open(src)
	if err != nil {
		return types.WrapError(types.ErrIO, err, "reading %s", src)
	}
	defer in.Close()
	w, err := zw.Create(name)
	if err != nil {
		return types.WrapError(types.ErrIO, err, "adding %s to bundle", name)
	}
	if _, err := io.Copy(w, in); err != nil {
		return types.WrapError(types.ErrIO, err, "writing %s to bundle", name)
	}
	return nil
}

// VerifyProofBundle re-verifies a proof bundle independently of any ledger
// directory, using only the archive contents.
func VerifyProofBundle(bundlePath, packetID string) (bool, []string, error) {
	zr, err := zip.OpenReader(bundlePath)
	if err != nil {
		return false, nil, types.WrapError(types.ErrIO, err, "opening proof bundle %s", bundlePath)
	}
	defer zr.Close()

	var commitNames []string
	var head *Head
	byName := map[string]*zip.File{}
	for _, zf := range zr.File {
		byName[zf.Name] = zf
		if strings.HasPrefix(zf.Name, "commits/") && path.Ext(zf.Name) == ".json" {
			commitNames = append(commitNames, zf.Name)
		}
	}
	sort.Strings(commitNames)

	if hf, ok := byName["HEAD"]; ok {
		b, readErr := readZipFile(hf)
		if readErr != nil {
			return false, nil, readErr
		}
		var h Head
		if err := json.Unmarshal(b, &h); err != nil {
			return false, []string{"unreadable HEAD in bundle"}, nil
		}
		head = &h
	}

	raw := make([][]byte, 0, len(commitNames))
	for _, name := range commitNames {
		b, readErr := readZipFile(byName[name])
		if readErr != nil {
			return false, nil, readErr
		}
		raw = append(raw, b)
	}
	ok, issues := VerifyCommits(packetID, raw, head)
	return ok, issues, nil
}

func readZipFile(zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, types.WrapError(types.ErrIO, err, "opening %s in bundle", zf.Name)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, types.WrapError(types.ErrIO, err, "reading %s in bundle", zf.Name)
	}
	return b, nil
}
