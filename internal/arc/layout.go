package arc

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
)

// Store layout:
//
//	global.json                     index of archived entities
//	<entity>/profile.json           generation catalog
//	<entity>/<gen>/generation.json  generation profile
//	<entity>/<gen>/md5sum.txt       checksum manifest
//	disks/<contentKey>/data         block payload
//	disks/<contentKey>/json         dedup ledger
const (
	GlobalIndexKey    = "global.json"
	DisksFolder       = "disks"
	catalogFile       = "profile.json"
	profileFile       = "generation.json"
	manifestFile      = "md5sum.txt"
	blockDataSuffix   = "data"
	blockLedgerSuffix = "json"
)

// ContentKey returns the content-derived key of a plaintext block.
func ContentKey(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// BlockFolder returns the folder holding a block's payload and ledger.
func BlockFolder(contentKey string) string {
	return path.Join(DisksFolder, contentKey)
}

// BlockDataKey returns the key of a block payload.
func BlockDataKey(contentKey string) string {
	return path.Join(DisksFolder, contentKey, blockDataSuffix)
}

// BlockLedgerKey returns the key of a block's dedup ledger.
func BlockLedgerKey(contentKey string) string {
	return path.Join(DisksFolder, contentKey, blockLedgerSuffix)
}

// EntityFolder returns the folder holding an entity's catalog and generations.
func EntityFolder(entityUUID string) string {
	return entityUUID + "/"
}

// CatalogKey returns the key of an entity's generation catalog.
func CatalogKey(entityUUID string) string {
	return path.Join(entityUUID, catalogFile)
}

// GenerationFolder returns the folder of one generation. It is the unit of
// deletion for a generation's metadata.
func GenerationFolder(entityUUID string, genID int) string {
	return fmt.Sprintf("%s/%d/", entityUUID, genID)
}

// ProfileKey returns the key of a generation profile.
func ProfileKey(entityUUID string, genID int) string {
	return GenerationFolder(entityUUID, genID) + profileFile
}

// ManifestKey returns the key of a generation's checksum manifest.
func ManifestKey(entityUUID string, genID int) string {
	return GenerationFolder(entityUUID, genID) + manifestFile
}

// IsCatalogKey reports whether key names an entity catalog.
func IsCatalogKey(key string) bool {
	dir, file := path.Split(key)
	return file == catalogFile && strings.Count(dir, "/") == 1 && dir != DisksFolder+"/"
}
