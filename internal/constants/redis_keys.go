package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// FileModulePrefix 文件模块
	FileModulePrefix = "file"

	// EntityDedupSet 去重集合实体
	EntityDedupSet = "dedup_set"
	// EntityMD5ToSubmission MD5到SubmissionID的映射实体
	EntityMD5ToSubmission = "md5_to_submission"

	// KeyFileMD5Set 文件MD5集合，用于快速去重 (SET)
	// 格式: app:file:dedup_set
	KeyFileMD5Set = AppPrefix + ":" + FileModulePrefix + ":" + EntityDedupSet

	// KeyFileMD5ToSubmissionID MD5到SubmissionID的映射 (STRING)
	// 格式: app:file:md5_to_submission:{md5}
	KeyFileMD5ToSubmissionID = AppPrefix + ":" + FileModulePrefix + ":" + EntityMD5ToSubmission + ":%s"
)
