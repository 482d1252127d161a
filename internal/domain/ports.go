package domain

import "time"

// ProductRepository управляет каталогом товаров. Остатки изменяются
// только внутри композитных операций OrderRepository и OutboxRepository.
type ProductRepository interface {
	Create(product Product) (Product, error)
	Get(id string) (Product, error)
	List(ids []string) ([]Product, error)
}

// OrderRepository управляет заказами и связанными с ними резервами остатков.
type OrderRepository interface {
	// CreateWithReservation атомарно резервирует остатки (условный декремент
	// по каждому товару) и создаёт заказ, позиции, платёж и, если event
	// не nil, outbox-событие. Нехватка остатка по любому товару откатывает
	// всю транзакцию и возвращает ErrInsufficientStock.
	CreateWithReservation(order Order, payment Payment, event *OutboxEvent) error
	Get(id string) (Order, error)
	// RestoreStock идемпотентно возвращает остатки заказа на склад.
	// Повторный вызов (в том числе конкурентный) не изменяет ничего:
	// флаг Order.StockRestored выигрывает ровно один раз.
	RestoreStock(orderID string) (bool, error)
	// FailWithRestore помечает заказ и платёж failed и возвращает остатки
	// в одной транзакции. Используется компенсацией Session Processor-а.
	FailWithRestore(orderID, paymentID, errMessage string) error
	// MarkPendingReconcile переводит заказ и платёж в pending_reconcile:
	// внешний ресурс, возможно, существует, истину выяснит reconciler.
	MarkPendingReconcile(orderID, paymentID, errMessage string) error
}

// PaymentRepository управляет платежами и webhook-переходами их статусов.
type PaymentRepository interface {
	Get(id string) (Payment, error)
	// FindByIntentID ищет платёж по провайдерскому intent id.
	FindByIntentID(intentID string) (Payment, error)
	// FindBySessionID ищет платёж по провайдерскому session id.
	FindBySessionID(sessionID string) (Payment, error)
	// SaveIntentID — best-effort запись intent id сразу после его создания.
	// Потеря этой записи не является ошибкой корректности: авторитетная
	// запись происходит в OutboxRepository.CompleteWithSession.
	SaveIntentID(paymentID, intentID string) error
	// MarkPaid помечает платёж и его заказ paid. Переход защищён условным
	// обновлением provider_event_id IS NULL; false означает, что событие
	// уже было обработано.
	MarkPaid(paymentID, providerEventID string) (bool, error)
	// MarkFailed помечает платёж и заказ failed и идемпотентно возвращает
	// остатки. Дедупликация та же, что у MarkPaid.
	MarkFailed(paymentID, providerEventID, errMessage string) (bool, error)
}

// OutboxRepository управляет жизненным циклом outbox-событий: очередь,
// lease, завершение, dead-letter и его разрешение.
type OutboxRepository interface {
	// Enqueue сохраняет событие вне транзакции создания заказа
	// (используется InitiatePayment). ClaimedAt/ClaimedBy события
	// сохраняются как есть, что позволяет создать событие сразу
	// захваченным синхронным вызывающим.
	Enqueue(event OutboxEvent) (OutboxEvent, error)
	Get(id string) (OutboxEvent, error)
	// PullUnclaimed возвращает до limit необработанных, незахваченных,
	// не dead-letter событий, старые впереди.
	PullUnclaimed(limit int) ([]OutboxEvent, error)
	// Claim — условное групповое обновление claimed_at IS NULL. Возвращает
	// только события, которые выиграл данный claimedBy; проигрыш гонки за
	// отдельную строку — ожидаемое поведение, не ошибка.
	Claim(ids []string, claimedBy string) ([]OutboxEvent, error)
	// ClaimOne захватывает одно событие для inline-обработки.
	// Возвращает ErrOutboxClaimLost, если событие уже захвачено.
	ClaimOne(id, claimedBy string) error
	// Release снимает lease, чтобы событие мог забрать следующий poll.
	Release(id string) error
	// CompleteWithSession атомарно сохраняет провайдерские идентификаторы
	// платежа и помечает событие обработанным. Частичное применение пары
	// исключается границей транзакции.
	CompleteWithSession(eventID, paymentID string, session Session) error
	// Complete помечает событие обработанным без записи сессии
	// (платёж уже покинул статус unpaid).
	Complete(eventID string) error
	// RecordFailure увеличивает счётчик попыток и сохраняет текст ошибки.
	// Возвращает новое значение счётчика.
	RecordFailure(eventID, errMessage string) (int32, error)
	// MarkDeadLetter помечает событие dead-letter и переводит платёж и заказ
	// в pending_reconcile одной транзакцией. false — событие уже dead-letter,
	// повторное уведомление не требуется.
	MarkDeadLetter(eventID, orderID, paymentID, reason string) (bool, error)
	// PullDeadLetters возвращает неразрешённые dead-letter события старше olderThan.
	PullDeadLetters(olderThan time.Time, limit int) ([]OutboxEvent, error)
	// Resolve помечает dead-letter событие разрешённым с причиной.
	Resolve(eventID, reason string) error
	// ResolveWithRestore возвращает остатки заказа, помечает заказ canceled,
	// платежи failed и разрешает dead-letter событие в одной транзакции.
	ResolveWithRestore(eventID, orderID, reason string) error
	Stats() (OutboxStats, error)
}

// DeadLetterNotice — данные уведомления оператора о dead-letter событии.
type DeadLetterNotice struct {
	OutboxID   string
	OrderID    string
	PaymentID  string
	Reason     string
	Resolution string
}

// Notifier — канал уведомлений операторов. Отправка fire-and-forget:
// ошибки логируются и никогда не ломают транзакции ядра.
type Notifier interface {
	NotifyDeadLetter(notice DeadLetterNotice) error
	NotifyDeadLetterResolved(notice DeadLetterNotice) error
}
