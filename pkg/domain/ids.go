package domain

import "strconv"

// EventID identifies the kind of an event. User events and kernel events
// share one id space: user events come first, kernel events start at
// FirstKernelEvent.
type EventID uint8

// UserEventID enumerates the events emitted by the application.
type UserEventID uint8

const (
	UserEventUndefined UserEventID = iota
	UserDumpSystemState
	UserStartCapturing
	UserStopCapturing
	UserMessage

	userEventNext
)

// EventID converts the user event into the shared id space.
func (u UserEventID) EventID() EventID { return EventID(u) }

func (u UserEventID) String() string { return EventID(u).String() }

// Valid reports whether u is one of the defined user events.
func (u UserEventID) Valid() bool {
	return u > UserEventUndefined && u < userEventNext
}

// FirstKernelEvent is the first id of the kernel event range.
const FirstKernelEvent = EventID(userEventNext)

// Kernel trace points.
const (
	// task events
	EventTaskMovedToReadyState EventID = FirstKernelEvent + iota
	EventTaskPostMovedToReadyState
	EventTaskCreate
	EventTaskCreateFailed
	EventTaskDelay
	EventTaskDelayUntil
	EventTaskDelete
	EventTaskIncrementTick
	EventTaskNotify
	EventTaskNotifyFromISR
	EventTaskNotifyGiveFromISR
	EventTaskNotifyTake
	EventTaskNotifyTakeBlock
	EventTaskNotifyWait
	EventTaskNotifyWaitBlock
	EventTaskPriorityDisinherit
	EventTaskPriorityInherit
	EventTaskPrioritySet
	EventTaskResume
	EventTaskResumeFromISR
	EventTaskSuspend
	EventTaskSwitchedIn
	EventTaskSwitchedOut
	EventTickCountIncrease
	// queue events
	EventQueueBlockingOnPeek
	EventQueueBlockingOnReceive
	EventQueueBlockingOnSend
	EventQueueCreate
	EventQueueCreateFailed
	EventQueueDelete
	EventQueuePeek
	EventQueuePeekFailed
	EventQueuePeekFromISR
	EventQueuePeekFromISRFailed
	EventQueueRegistryAdd
	EventQueueReceive
	EventQueueReceiveFailed
	EventQueueReceiveFromISR
	EventQueueReceiveFromISRFailed
	EventQueueSend
	EventQueueSendFailed
	EventQueueSendFromISR
	EventQueueSendFromISRFailed
	// synchronisation events
	EventCountingSemaphoreCreate
	EventCountingSemaphoreCreateFailed
	EventMutexCreate
	EventMutexCreateFailed
	EventMutexRecursiveGive
	EventMutexRecursiveGiveFailed
	EventMutexRecursiveTake
	EventMutexRecursiveTakeFailed
	// stream buffer events
	EventStreamBufferBlockingOnReceive
	EventStreamBufferBlockingOnSend
	EventStreamBufferCreate
	EventStreamBufferCreateFailed
	EventStreamBufferCreateStaticFailed
	EventStreamBufferDelete
	EventStreamBufferReceive
	EventStreamBufferReceiveFailed
	EventStreamBufferReceiveFromISR
	EventStreamBufferReset
	EventStreamBufferSend
	EventStreamBufferSendFailed
	EventStreamBufferSendFromISR
	// timer events
	EventPendFuncCall
	EventPendFuncCallFromISR
	EventTimerCommandReceived
	EventTimerCommandSend
	EventTimerCreate
	EventTimerCreateFailed
	EventTimerExpired
	// power management events
	EventLowPowerIdleBegin
	EventLowPowerIdleEnd
	// allocator events
	EventMalloc
	EventFree
	// event group events
	EventGroupClearBits
	EventGroupClearBitsFromISR
	EventGroupCreate
	EventGroupCreateFailed
	EventGroupDelete
	EventGroupSetBits
	EventGroupSetBitsFromISR
	EventGroupSyncBlock
	EventGroupWaitBitsBlock

	eventNext
)

var eventNames = [...]string{
	0:                                   "UNDEFINED",
	UserDumpSystemState:                 "DUMP_SYSTEM_STATE",
	UserStartCapturing:                  "START_CAPTURING",
	UserStopCapturing:                   "STOP_CAPTURING",
	UserMessage:                         "MESSAGE",
	EventTaskMovedToReadyState:          "TASK_MOVED_TO_READY_STATE",
	EventTaskPostMovedToReadyState:      "TASK_POST_MOVED_TO_READY_STATE",
	EventTaskCreate:                     "TASK_CREATE",
	EventTaskCreateFailed:               "TASK_CREATE_FAILED",
	EventTaskDelay:                      "TASK_DELAY",
	EventTaskDelayUntil:                 "TASK_DELAY_UNTIL",
	EventTaskDelete:                     "TASK_DELETE",
	EventTaskIncrementTick:              "TASK_INCREMENT_TICK",
	EventTaskNotify:                     "TASK_NOTIFY",
	EventTaskNotifyFromISR:              "TASK_NOTIFY_FROM_ISR",
	EventTaskNotifyGiveFromISR:          "TASK_NOTIFY_GIVE_FROM_ISR",
	EventTaskNotifyTake:                 "TASK_NOTIFY_TAKE",
	EventTaskNotifyTakeBlock:            "TASK_NOTIFY_TAKE_BLOCK",
	EventTaskNotifyWait:                 "TASK_NOTIFY_WAIT",
	EventTaskNotifyWaitBlock:            "TASK_NOTIFY_WAIT_BLOCK",
	EventTaskPriorityDisinherit:         "TASK_PRIORITY_DISINHERIT",
	EventTaskPriorityInherit:            "TASK_PRIORITY_INHERIT",
	EventTaskPrioritySet:                "TASK_PRIORITY_SET",
	EventTaskResume:                     "TASK_RESUME",
	EventTaskResumeFromISR:              "TASK_RESUME_FROM_ISR",
	EventTaskSuspend:                    "TASK_SUSPEND",
	EventTaskSwitchedIn:                 "TASK_SWITCHED_IN",
	EventTaskSwitchedOut:                "TASK_SWITCHED_OUT",
	EventTickCountIncrease:              "TICK_COUNT_INCREASE",
	EventQueueBlockingOnPeek:            "QUEUE_BLOCKING_ON_PEEK",
	EventQueueBlockingOnReceive:         "QUEUE_BLOCKING_ON_RECEIVE",
	EventQueueBlockingOnSend:            "QUEUE_BLOCKING_ON_SEND",
	EventQueueCreate:                    "QUEUE_CREATE",
	EventQueueCreateFailed:              "QUEUE_CREATE_FAILED",
	EventQueueDelete:                    "QUEUE_DELETE",
	EventQueuePeek:                      "QUEUE_PEEK",
	EventQueuePeekFailed:                "QUEUE_PEEK_FAILED",
	EventQueuePeekFromISR:               "QUEUE_PEEK_FROM_ISR",
	EventQueuePeekFromISRFailed:         "QUEUE_PEEK_FROM_ISR_FAILED",
	EventQueueRegistryAdd:               "QUEUE_REGISTRY_ADD",
	EventQueueReceive:                   "QUEUE_RECEIVE",
	EventQueueReceiveFailed:             "QUEUE_RECEIVE_FAILED",
	EventQueueReceiveFromISR:            "QUEUE_RECEIVE_FROM_ISR",
	EventQueueReceiveFromISRFailed:      "QUEUE_RECEIVE_FROM_ISR_FAILED",
	EventQueueSend:                      "QUEUE_SEND",
	EventQueueSendFailed:                "QUEUE_SEND_FAILED",
	EventQueueSendFromISR:               "QUEUE_SEND_FROM_ISR",
	EventQueueSendFromISRFailed:         "QUEUE_SEND_FROM_ISR_FAILED",
	EventCountingSemaphoreCreate:        "COUNTING_SEMAPHORE_CREATE",
	EventCountingSemaphoreCreateFailed:  "COUNTING_SEMAPHORE_CREATE_FAILED",
	EventMutexCreate:                    "MUTEX_CREATE",
	EventMutexCreateFailed:              "MUTEX_CREATE_FAILED",
	EventMutexRecursiveGive:             "MUTEX_RECURSIVE_GIVE",
	EventMutexRecursiveGiveFailed:       "MUTEX_RECURSIVE_GIVE_FAILED",
	EventMutexRecursiveTake:             "MUTEX_RECURSIVE_TAKE",
	EventMutexRecursiveTakeFailed:       "MUTEX_RECURSIVE_TAKE_FAILED",
	EventStreamBufferBlockingOnReceive:  "STREAM_BUFFER_BLOCKING_ON_RECEIVE",
	EventStreamBufferBlockingOnSend:     "STREAM_BUFFER_BLOCKING_ON_SEND",
	EventStreamBufferCreate:             "STREAM_BUFFER_CREATE",
	EventStreamBufferCreateFailed:       "STREAM_BUFFER_CREATE_FAILED",
	EventStreamBufferCreateStaticFailed: "STREAM_BUFFER_CREATE_STATIC_FAILED",
	EventStreamBufferDelete:             "STREAM_BUFFER_DELETE",
	EventStreamBufferReceive:            "STREAM_BUFFER_RECEIVE",
	EventStreamBufferReceiveFailed:      "STREAM_BUFFER_RECEIVE_FAILED",
	EventStreamBufferReceiveFromISR:     "STREAM_BUFFER_RECEIVE_FROM_ISR",
	EventStreamBufferReset:              "STREAM_BUFFER_RESET",
	EventStreamBufferSend:               "STREAM_BUFFER_SEND",
	EventStreamBufferSendFailed:         "STREAM_BUFFER_SEND_FAILED",
	EventStreamBufferSendFromISR:        "STREAM_BUFFER_SEND_FROM_ISR",
	EventPendFuncCall:                   "PEND_FUNC_CALL",
	EventPendFuncCallFromISR:            "PEND_FUNC_CALL_FROM_ISR",
	EventTimerCommandReceived:           "TIMER_COMMAND_RECEIVED",
	EventTimerCommandSend:               "TIMER_COMMAND_SEND",
	EventTimerCreate:                    "TIMER_CREATE",
	EventTimerCreateFailed:              "TIMER_CREATE_FAILED",
	EventTimerExpired:                   "TIMER_EXPIRED",
	EventLowPowerIdleBegin:              "LOW_POWER_IDLE_BEGIN",
	EventLowPowerIdleEnd:                "LOW_POWER_IDLE_END",
	EventMalloc:                         "MALLOC",
	EventFree:                           "FREE",
	EventGroupClearBits:                 "EVENT_GROUP_CLEAR_BITS",
	EventGroupClearBitsFromISR:          "EVENT_GROUP_CLEAR_BITS_FROM_ISR",
	EventGroupCreate:                    "EVENT_GROUP_CREATE",
	EventGroupCreateFailed:              "EVENT_GROUP_CREATE_FAILED",
	EventGroupDelete:                    "EVENT_GROUP_DELETE",
	EventGroupSetBits:                   "EVENT_GROUP_SET_BITS",
	EventGroupSetBitsFromISR:            "EVENT_GROUP_SET_BITS_FROM_ISR",
	EventGroupSyncBlock:                 "EVENT_GROUP_SYNC_BLOCK",
	EventGroupWaitBitsBlock:             "EVENT_GROUP_WAIT_BITS_BLOCK",
}

func (id EventID) String() string {
	if int(id) < len(eventNames) && eventNames[id] != "" {
		return eventNames[id]
	}
	return "EVENT_" + strconv.Itoa(int(id))
}

// IsUser reports whether id belongs to the user event range.
func (id EventID) IsUser() bool {
	return UserEventID(id).Valid()
}

// Valid reports whether id is a known event.
func (id EventID) Valid() bool {
	return id > 0 && id < eventNext
}

// NeedsMessage reports whether events of this kind carry the task name
// instead of the task priority.
func (id EventID) NeedsMessage() bool {
	switch id {
	case EventTaskCreate, EventTaskDelete:
		return true
	default:
		return false
	}
}

// ParseEventID resolves an event name as produced by String.
func ParseEventID(name string) (EventID, bool) {
	for id, n := range eventNames {
		if n == name && id != 0 {
			return EventID(id), true
		}
	}
	return 0, false
}
