package entry

import (
	"strconv"

	"github.com/pkg/xattr"
)

const idXattrName = "user.openbmc.dump_id"

// tagPayload best-effort records an entry's id as an extended attribute
// on its payload file, so an operator (or a backup tool walking the
// staging filesystem directly) can recover which catalog entry a file
// belongs to without parsing the collector's filename grammar. Not every
// filesystem the staging root lands on supports xattrs (tmpfs mounted
// without user_xattr, some overlay configurations); a failure here is
// never propagated, since the catalog's own bookkeeping is authoritative.
func tagPayload(path string, id uint32) {
	_ = xattr.Set(path, idXattrName, []byte(strconv.FormatUint(uint64(id), 10)))
}
