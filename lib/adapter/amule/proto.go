package amule

// EC opcodes.
const (
	opNoop            uint8 = 0x01
	opAuthReq         uint8 = 0x02
	opAuthFail        uint8 = 0x03
	opAuthOK          uint8 = 0x04
	opFailed          uint8 = 0x05
	opStrings         uint8 = 0x06
	opMiscData        uint8 = 0x07
	opAddLink         uint8 = 0x09
	opStatReq         uint8 = 0x0A
	opStats           uint8 = 0x0B
	opGetDloadQueue   uint8 = 0x0C
	opDloadQueue      uint8 = 0x0D
	opGetUloadQueue   uint8 = 0x0E
	opUloadQueue      uint8 = 0x0F
	opGetSharedFiles  uint8 = 0x10
	opSharedFiles     uint8 = 0x11
	opSharedReload    uint8 = 0x12
	opPartfileDelete  uint8 = 0x14
	opPartfilePause   uint8 = 0x15
	opPartfileResume  uint8 = 0x16
	opPartfileStop    uint8 = 0x17
	opPartfileSetCat  uint8 = 0x18
	opPartfilePrioSet uint8 = 0x19
	opServerConnect   uint8 = 0x20
	opServerDisconn   uint8 = 0x21
	opGetServerList   uint8 = 0x22
	opServerList      uint8 = 0x23
	opServerRemove    uint8 = 0x24
	opSearchStart     uint8 = 0x26
	opSearchStop      uint8 = 0x27
	opSearchResults   uint8 = 0x28
	opSearchProgress  uint8 = 0x29
	opDloadSearchRes  uint8 = 0x2A
	opGetPreferences  uint8 = 0x30
	opSetPreferences  uint8 = 0x31
	opCreateCategory  uint8 = 0x32
	opUpdateCategory  uint8 = 0x33
	opDeleteCategory  uint8 = 0x34
	opGetLog          uint8 = 0x38
	opLog             uint8 = 0x39
	opGetServerInfo   uint8 = 0x3A
	opServerInfo      uint8 = 0x3B
	opGetStatsTree    uint8 = 0x3C
	opStatsTree       uint8 = 0x3D
	opAuthSalt        uint8 = 0x55
	opAuthPasswd      uint8 = 0x56
)

// EC tag names.
const (
	tagClientName      uint16 = 0x0001
	tagClientVersion   uint16 = 0x0002
	tagProtocolVersion uint16 = 0x0003
	tagString          uint16 = 0x0006
	tagPasswdHash      uint16 = 0x0008
	tagPasswdSalt      uint16 = 0x0009
	tagCategory        uint16 = 0x000A
	tagPrefsSelector   uint16 = 0x000C
	tagLogApp          uint16 = 0x000D
	tagServerVersion   uint16 = 0x000E

	// Statistics subtree.
	tagStats           uint16 = 0x0200
	tagStatsUlSpeed    uint16 = 0x0201
	tagStatsDlSpeed    uint16 = 0x0202
	tagStatsConnState  uint16 = 0x0203
	tagStatsClientID   uint16 = 0x0204
	tagStatsTotalSent  uint16 = 0x0205
	tagStatsTotalRecv  uint16 = 0x0206
	tagStatsListenPort uint16 = 0x0207
	tagStatsEd2kUsers  uint16 = 0x0208
	tagStatsEd2kFiles  uint16 = 0x0209

	// Partfile (download queue entry) subtree.
	tagPartfile          uint16 = 0x0300
	tagPartfileName      uint16 = 0x0301
	tagPartfileSizeFull  uint16 = 0x0302
	tagPartfileSizeXfer  uint16 = 0x0303
	tagPartfileSizeDone  uint16 = 0x0304
	tagPartfileSpeed     uint16 = 0x0305
	tagPartfileStatus    uint16 = 0x0306
	tagPartfilePrio      uint16 = 0x0307
	tagPartfileSrcCount  uint16 = 0x0308
	tagPartfileSrcA4AF   uint16 = 0x0309
	tagPartfileSrcCur    uint16 = 0x030A
	tagPartfileSrcXfer   uint16 = 0x030B
	tagPartfileEd2kLink  uint16 = 0x030C
	tagPartfileCat       uint16 = 0x030D
	tagPartfileLastSeen  uint16 = 0x030E
	tagPartfilePartStat  uint16 = 0x030F

	// Known (shared) file subtree.
	tagKnownfile         uint16 = 0x0400
	tagKnownfileXferred  uint16 = 0x0401
	tagKnownfileRequests uint16 = 0x0402
	tagKnownfileAccepts  uint16 = 0x0403
	tagKnownfilePath     uint16 = 0x0404

	// Server subtree.
	tagServer      uint16 = 0x0500
	tagServerName  uint16 = 0x0501
	tagServerIP    uint16 = 0x0502
	tagServerPort  uint16 = 0x0503
	tagServerUsers uint16 = 0x0504
	tagServerFiles uint16 = 0x0505

	// Category subtree.
	tagCategoryID      uint16 = 0x0600
	tagCategoryTitle   uint16 = 0x0601
	tagCategoryPath    uint16 = 0x0602
	tagCategoryComment uint16 = 0x0603
	tagCategoryColor   uint16 = 0x0604
	tagCategoryPrio    uint16 = 0x0605

	// Search file subtree.
	tagSearchFile    uint16 = 0x0700
	tagSearchName    uint16 = 0x0701
	tagSearchSize    uint16 = 0x0702
	tagSearchSources uint16 = 0x0703
	tagSearchType    uint16 = 0x0704

	// Upload queue client subtree.
	tagUpClient      uint16 = 0x0800
	tagUpClientName  uint16 = 0x0801
	tagUpClientIP    uint16 = 0x0802
	tagUpClientPort  uint16 = 0x0803
	tagUpClientSoft  uint16 = 0x0804
	tagUpClientSpeed uint16 = 0x0805
	tagUpClientHash  uint16 = 0x0806
)

// Preference selectors for opGetPreferences.
const prefsCategories uint32 = 0x20

const (
	_clientName      = "peerhub"
	_protocolVersion = 0x0204
)
