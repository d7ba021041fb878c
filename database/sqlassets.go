package sqlassets

import _ "embed"

//go:embed schema/platform/workforce.sql
var WorkforceSQL string

//go:embed schema/platform/deletion.sql
var DeletionSQL string
