package approval

/*
Файл signer.go — единственное место сборки канонического сообщения и
HMAC-подписи вердикта. Подписывающий и проверяющий обязаны проходить
через одни и те же функции: исторически расхождения рукописных строк
(лишний пробел, наивный таймстемп, перестановка полей) ломали проверку
подписи незаметно для обеих сторон.
*/

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/xela07ax/agentgate/internal/domain"
)

// CanonicalMessage — строка вида "{id}:{decision}:{approver}:{expires_at}".
// expires_at всегда в UTC с явным смещением (RFC3339), никогда не локальное
// время.
func CanonicalMessage(approvalID string, decision domain.ApprovalDecision, approver string, expiresAt time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s",
		approvalID, decision, approver, expiresAt.UTC().Format(time.RFC3339))
}

// Sign считает HMAC-SHA256 канонического сообщения, hex-кодирует digest.
func Sign(secret []byte, approvalID string, decision domain.ApprovalDecision, approver string, expiresAt time.Time) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(CanonicalMessage(approvalID, decision, approver, expiresAt)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature пересчитывает ожидаемую подпись и сравнивает за
// константное время.
func VerifySignature(secret []byte, approvalID string, decision domain.ApprovalDecision, approver string, expiresAt time.Time, signature string) bool {
	expected := Sign(secret, approvalID, decision, approver, expiresAt)
	return hmac.Equal([]byte(expected), []byte(signature))
}
