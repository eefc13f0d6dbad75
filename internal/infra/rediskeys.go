package infra

const (
	// RedisNamespace — базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "agentgate"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanRuleUpdate — консоль публикует сигнал после замены
	// снапшота правил; шлюзы перечитывают набор из БД
	RedisChanRuleUpdate = RedisNamespace + ":rules:update"

	// RedisChanApprovalDecisions — трансляция вердиктов оператора (HITL),
	// формат "approval_id:status"
	RedisChanApprovalDecisions = RedisNamespace + ":approvals:decisions"
)

// Ключи прогрева при старте флота
const (
	// RedisKeyRuleSnapshot — L2-копия набора правил, которую победитель
	// лока оставляет для остальных рестартующих инстансов
	RedisKeyRuleSnapshot = RedisNamespace + ":cache:rules"

	// RedisKeyLockRuleWarmup — SetNX-лок: кто взял, тот и наполняет L2
	RedisKeyLockRuleWarmup = RedisNamespace + ":lock:warmup:rules"
)
