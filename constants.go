package sgcopy

import "github.com/sgcopy/sgcopy/internal/constants"

// Re-exported tunables, for callers that want the engine's defaults
// without reaching into internal/constants directly.
const (
	DefaultBlockSize         = constants.DefaultBlockSize
	DefaultBlocksPerTransfer = constants.DefaultBlocksPerTransfer
	DefaultThreads           = constants.DefaultThreads
	MaxThreads               = constants.MaxThreads
	DefaultCDBSize           = constants.DefaultCDBSize
	DefaultCommandTimeout    = constants.DefaultCommandTimeout
	DefaultStallInitialCheck = constants.DefaultStallInitialCheck
	DefaultStallCheckRepeat  = constants.DefaultStallCheckRepeat
	MaxSCSICDBSize           = constants.MaxSCSICDBSize
	SenseBufferLen           = constants.SenseBufferLen
	ShareRetryLimit          = constants.ShareRetryLimit
	MinKernelVersionForSharing = constants.MinKernelVersionForSharing
	IOBufferDefaultCap       = constants.IOBufferDefaultCap
)
